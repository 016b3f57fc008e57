package jobqueue

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/stateio"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

// ExecutorCaps holds per-executor running-job concurrency limits (spec
// §4.E "Concurrency").
type ExecutorCaps struct {
	Codex       int
	OpenCodeCLI int
}

func (c ExecutorCaps) forExecutor(e taskboard.Executor) int {
	switch e {
	case taskboard.ExecutorCodex:
		return c.Codex
	case taskboard.ExecutorOpenCodeCLI:
		return c.OpenCodeCLI
	default:
		return 0
	}
}

// DefaultLeaseMs is the default external-job lease duration (spec §4.E,
// "leaseUntil=now+leaseMs (default 12 min)").
const DefaultLeaseMs = 12 * 60 * 1000

// Queue is the in-memory job map with durable snapshot persistence (spec
// §4.E).
type Queue struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	file       string
	events     *eventlog.Writer
	log        *log.Logger
	caps       ExecutorCaps
	baseCaps   ExecutorCaps
	leaseMs    int64
	scheduling bool
}

// New constructs a Queue persisting to file.
func New(file string, events *eventlog.Writer, logger *log.Logger, caps ExecutorCaps) *Queue {
	leaseMs := int64(DefaultLeaseMs)
	return &Queue{jobs: map[string]*Job{}, file: file, events: events, log: logger, caps: caps, baseCaps: caps, leaseMs: leaseMs}
}

// SetLeaseMs overrides the external-job lease duration.
func (q *Queue) SetLeaseMs(ms int64) { q.leaseMs = ms }

// SetCaps overrides the per-executor running-job concurrency limits, used
// by the degradation matrix's TightenWIPCaps action (spec §4.K) to shrink
// admission and by its reversal to restore the configured caps.
func (q *Queue) SetCaps(c ExecutorCaps) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.caps = c
}

// TightenCaps halves the configured (not currently-tightened) caps, with a
// floor of 1, so repeated calls while still degraded don't keep compounding.
func (q *Queue) TightenCaps() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.caps = ExecutorCaps{Codex: halveFloor1(q.baseCaps.Codex), OpenCodeCLI: halveFloor1(q.baseCaps.OpenCodeCLI)}
}

// RestoreCaps reverts to the configured caps, clearing any tightening.
func (q *Queue) RestoreCaps() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.caps = q.baseCaps
}

func halveFloor1(n int) int {
	if n <= 0 {
		return n
	}
	if n/2 < 1 {
		return 1
	}
	return n / 2
}

// Load reads the snapshot, demoting any job left running+internal from a
// previous process (spec §4.E "On startup").
func (q *Queue) Load() error {
	snap, err := stateio.ReadJSON(q.file, Snapshot{Jobs: map[string]*Job{}})
	if err != nil {
		return err
	}
	if snap.Jobs == nil {
		snap.Jobs = map[string]*Job{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = snap.Jobs
	for _, j := range q.jobs {
		if j.Status == StatusRunning && j.Runner == taskboard.RunnerInternal {
			j.Status = StatusQueued
		}
	}
	return q.persistLocked()
}

func (q *Queue) persistLocked() error {
	return stateio.WriteJSONAtomic(q.file, Snapshot{Jobs: q.jobs})
}

func newJobID() string { return "job_" + ulid.Make().String() }

// CreateInput describes a new job to enqueue (spec §4.H step 10).
type CreateInput struct {
	TaskID        string
	Executor      taskboard.Executor
	Model         string
	TimeoutMs     int
	Runner        taskboard.Runner
	Prompt        string
	ContextPackID string
	AllowedTests  []string
	BoardTaskArea string
	Priority      int
}

// Create enqueues a new job in status=queued.
func (q *Queue) Create(in CreateInput) *Job {
	j := &Job{
		ID:            newJobID(),
		CreatedAt:     time.Now().UTC(),
		TaskID:        in.TaskID,
		Executor:      in.Executor,
		Model:         in.Model,
		TimeoutMs:     in.TimeoutMs,
		Runner:        in.Runner,
		Prompt:        in.Prompt,
		ContextPackID: in.ContextPackID,
		AllowedTests:  in.AllowedTests,
		BoardTaskArea: in.BoardTaskArea,
		Priority:      in.Priority,
		Status:        StatusQueued,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[j.ID] = j
	_ = q.persistLocked()
	cp := *j
	return &cp
}

// Get returns a copy of the job by id.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// List returns all jobs sorted by createdAt ascending.
func (q *Queue) List() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveForTask reports whether task has a job in {queued, running} (spec
// §4.H step 3 idempotency, §8 invariant).
func (q *Queue) ActiveForTask(taskID string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.TaskID == taskID && j.IsActive() {
			cp := *j
			return &cp, true
		}
	}
	return nil, false
}

func (q *Queue) runningCount(executor taskboard.Executor) int {
	n := 0
	for _, j := range q.jobs {
		if j.Executor == executor && j.Status == StatusRunning {
			n++
		}
	}
	return n
}

// pickNextLocked returns the highest priority, oldest queued internal job
// for executor with a free concurrency slot (spec §4.E "Priority order").
func (q *Queue) pickNextLocked(executor taskboard.Executor) *Job {
	cap := q.caps.forExecutor(executor)
	if cap > 0 && q.runningCount(executor) >= cap {
		return nil
	}
	var best *Job
	for _, j := range q.jobs {
		if j.Status != StatusQueued || j.Runner != taskboard.RunnerInternal || j.Executor != executor {
			continue
		}
		if best == nil {
			best = j
			continue
		}
		if j.Priority > best.Priority {
			best = j
			continue
		}
		if j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt) {
			best = j
		}
	}
	return best
}

// RunFunc executes a claimed internal job and reports its outcome back to
// the queue (via Complete/Fail) once finished. It is invoked in its own
// goroutine by Schedule.
type RunFunc func(job *Job)

// Schedule drains all runnable (executor, queued-job) pairs for the given
// executors, launching run for each newly-started job. A boolean
// re-entrancy guard ensures only one scheduling pass runs at a time (spec
// §4.E: "a single boolean gate prevents concurrent scheduling loops").
func (q *Queue) Schedule(executors []taskboard.Executor, run RunFunc) {
	q.mu.Lock()
	if q.scheduling {
		q.mu.Unlock()
		return
	}
	q.scheduling = true
	defer func() {
		q.mu.Lock()
		q.scheduling = false
		q.mu.Unlock()
	}()

	for {
		started := false
		for _, ex := range executors {
			j := q.pickNextLocked(ex)
			if j == nil {
				continue
			}
			j.Status = StatusRunning
			j.StartedAt = time.Now().UTC()
			j.Attempts++
			_ = q.persistLocked()
			started = true
			cp := *j
			go run(&cp)
		}
		if !started {
			break
		}
	}
	q.mu.Unlock()
}
