package fixup

import (
	"fmt"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/degrade"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// Loops bundles the board/queue/event dependencies shared by every bounded
// recovery loop.
type Loops struct {
	Board  *taskboard.Board
	Queue  *jobqueue.Queue
	Events *eventlog.Writer
	Config Config

	// Fuse, if set, rejects new fixup-child creation once the queued-job
	// backlog crosses its threshold (spec §4.K "Fixup fuse"), independent
	// of the per-task CI/pins fixup caps already enforced below.
	Fuse *degrade.Fuse
}

// queuedJobCount reports how many jobs are currently queued, the signal
// the fixup fuse checks against its threshold.
func (l *Loops) queuedJobCount() int {
	n := 0
	for _, j := range l.Queue.List() {
		if j.Status == jobqueue.StatusQueued {
			n++
		}
	}
	return n
}

func (l *Loops) emit(e eventlog.Event) {
	if l.Events == nil {
		return
	}
	_ = l.Events.Append(e)
}

// TimeoutRequeue implements spec §4.J "Timeout requeue": when job.reason is
// timeout and the task's timeoutRetries is under cap, bump the counter, set
// a cooldown, and return the task to ready.
func (l *Loops) TimeoutRequeue(taskID, jobID string) (bool, error) {
	t, ok := l.Board.Get(taskID)
	if !ok {
		return false, taskboard.ErrNotFound
	}
	if t.TimeoutRetries >= l.Config.TimeoutRetryCap {
		return false, nil
	}
	cooldown := CooldownWithJitter(l.Config.TimeoutCooldownMs, taskID+jobID)
	_, err := l.Board.Mutate(taskID, func(task *taskboard.Task) error {
		task.TimeoutRetries++
		task.CooldownUntil = time.Now().UnixMilli() + cooldown
		task.Status = taskboard.StatusReady
		task.LastJobID = jobID
		task.LastJobStatus = string(jobqueue.StatusFailed)
		task.LastJobReason = string(taxonomy.Timeout)
		return nil
	})
	if err != nil {
		return false, err
	}
	l.emit(eventlog.Info("timeout_requeued", map[string]any{"task_id": taskID, "job_id": jobID, "attempt": t.TimeoutRetries + 1}))
	return true, nil
}

// modelThrottleReasons is the set of reasons that advance the model
// ladder rather than simply retrying the same model (spec §4.J
// "Model-throttle ladder").
var modelThrottleReasons = map[taxonomy.Reason]bool{
	taxonomy.RateLimited:  true,
	taxonomy.Unauthorized: true,
	taxonomy.Forbidden:    true,
}

// ModelThrottleLadder implements spec §4.J "Model-throttle ladder": on
// rate_limited/unauthorized/forbidden, advance modelAttempt (bounded),
// set a cooldown, and return the task to ready. poolLen is the length of
// the task's effective model pool, used to cap the ladder index.
func (l *Loops) ModelThrottleLadder(taskID, jobID string, reason taxonomy.Reason, poolLen int) (bool, error) {
	if !modelThrottleReasons[reason] {
		return false, nil
	}
	t, ok := l.Board.Get(taskID)
	if !ok {
		return false, taskboard.ErrNotFound
	}
	cap := l.Config.ModelLadderCap
	if poolLen > 0 && poolLen-1 < cap {
		cap = poolLen - 1
	}
	if t.ModelAttempt >= cap {
		return false, nil
	}
	cooldown := CooldownWithJitter(l.Config.ModelLadderCooldownMs, taskID+jobID)
	_, err := l.Board.Mutate(taskID, func(task *taskboard.Task) error {
		task.ModelAttempt++
		task.CooldownUntil = time.Now().UnixMilli() + cooldown
		task.Status = taskboard.StatusReady
		task.LastJobID = jobID
		task.LastJobStatus = string(jobqueue.StatusFailed)
		task.LastJobReason = string(reason)
		return nil
	})
	if err != nil {
		return false, err
	}
	l.emit(eventlog.Info("model_ladder_advanced", map[string]any{"task_id": taskID, "job_id": jobID, "model_attempt": t.ModelAttempt + 1, "reason": reason}))
	return true, nil
}

// CreateCIFixup implements spec §4.J "CI fixup task": creates an atomic
// child with role=qa, class=ci_fixup_v1, pointers back to the source task
// and job, priority bumped to head-of-queue.
func (l *Loops) CreateCIFixup(sourceTaskID, sourceJobID string) (*taskboard.Task, error) {
	source, ok := l.Board.Get(sourceTaskID)
	if !ok {
		return nil, taskboard.ErrNotFound
	}
	if source.CIFixupCount >= l.Config.CIFixupCapPerTask {
		return nil, fmt.Errorf("ci_fixup_cap_exceeded")
	}
	if l.Fuse != nil {
		if err := l.Fuse.Check(l.queuedJobCount()); err != nil {
			return nil, err
		}
	}
	child, err := l.Board.Create(taskboard.CreateInput{
		ParentID:     sourceTaskID,
		Kind:         taskboard.KindAtomic,
		Title:        "CI fixup for " + source.Title,
		Goal:         "Repair CI failures for task " + sourceTaskID,
		Role:         taskboard.RoleQA,
		TaskClass:    "ci_fixup_v1",
		Files:        source.Files,
		Pins:         source.Pins,
		AllowedTests: source.AllowedTests,
		Priority:     950,
		Pointers:     taskboard.Pointers{SourceTaskID: sourceTaskID, SourceJobID: sourceJobID},
	})
	if err != nil {
		return nil, err
	}
	_, _ = l.Board.SetStatus(child.ID, taskboard.StatusReady)
	_, _ = l.Board.Mutate(sourceTaskID, func(task *taskboard.Task) error {
		task.CIFixupCount++
		return nil
	})
	l.emit(eventlog.Info("ci_fixup_created", map[string]any{"source_task_id": sourceTaskID, "child_task_id": child.ID}))
	return child, nil
}

// CreatePinsFixup implements spec §4.J "Pins fixup task": creates a child
// with role=pinser, class=pins_fixup_v1.
func (l *Loops) CreatePinsFixup(sourceTaskID, sourceJobID string) (*taskboard.Task, error) {
	source, ok := l.Board.Get(sourceTaskID)
	if !ok {
		return nil, taskboard.ErrNotFound
	}
	if source.PinsFixupCount >= l.Config.PinsFixupCapPerTask {
		return nil, fmt.Errorf("pins_fixup_cap_exceeded")
	}
	if l.Fuse != nil {
		if err := l.Fuse.Check(l.queuedJobCount()); err != nil {
			return nil, err
		}
	}
	child, err := l.Board.Create(taskboard.CreateInput{
		ParentID:  sourceTaskID,
		Kind:      taskboard.KindAtomic,
		Title:     "Pins fixup for " + source.Title,
		Goal:      "Derive sufficient pins for task " + sourceTaskID,
		Role:      taskboard.RolePinser,
		TaskClass: "pins_fixup_v1",
		Files:     source.Files,
		Pins:      pinsOrFilesFallback(source),
		Priority:  940,
		Pointers:  taskboard.Pointers{SourceTaskID: sourceTaskID, SourceJobID: sourceJobID},
	})
	if err != nil {
		return nil, err
	}
	_, _ = l.Board.SetStatus(child.ID, taskboard.StatusReady)
	_, _ = l.Board.Mutate(sourceTaskID, func(task *taskboard.Task) error {
		task.PinsFixupCount++
		return nil
	})
	l.emit(eventlog.Info("pins_fixup_created", map[string]any{"source_task_id": sourceTaskID, "child_task_id": child.ID}))
	return child, nil
}

func pinsOrFilesFallback(source *taskboard.Task) *contextpack.Pins {
	if source.Pins != nil {
		return source.Pins
	}
	return &contextpack.Pins{AllowedPaths: append([]string{}, source.Files...)}
}

// ApplyPinsFromFixup applies already-parsed pins to the source task, clears
// PinsPending, and returns the source to ready, at most PinsFixupCapPerTask
// times per source (spec §4.J "Pins fixup task"). It does no parsing: the
// caller extracts the pins from the pins-fixup job's output.
func (l *Loops) ApplyPinsFromFixup(sourceTaskID string, pins *contextpack.Pins) (*taskboard.Task, error) {
	source, ok := l.Board.Get(sourceTaskID)
	if !ok {
		return nil, taskboard.ErrNotFound
	}
	if source.PinsRequeueCount >= l.Config.PinsFixupCapPerTask {
		return nil, fmt.Errorf("pins_requeue_cap_exceeded")
	}
	return l.Board.Mutate(sourceTaskID, func(task *taskboard.Task) error {
		task.Pins = pins
		task.PinsPending = false
		task.PinsRequeueCount++
		task.Status = taskboard.StatusReady
		return nil
	})
}
