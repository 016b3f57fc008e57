package jobqueue

import (
	"time"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

const claimPollInterval = 500 * time.Millisecond

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsExecutor(list []taskboard.Executor, v taskboard.Executor) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// tryClaimLocked selects a queued external job matching executors/models
// and atomically transitions it to running (spec §4.E "External claim
// protocol"). Caller must hold q.mu.
func (q *Queue) tryClaimLocked(workerID string, executors []taskboard.Executor, models []string) *Job {
	var best *Job
	for _, j := range q.jobs {
		if j.Status != StatusQueued || j.Runner != taskboard.RunnerExternal {
			continue
		}
		if !containsExecutor(executors, j.Executor) {
			continue
		}
		if len(models) > 0 && !contains(models, j.Model) {
			continue
		}
		cap := q.caps.forExecutor(j.Executor)
		if cap > 0 && q.runningCount(j.Executor) >= cap {
			continue
		}
		if best == nil || j.Priority > best.Priority || (j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil
	}
	best.Status = StatusRunning
	best.StartedAt = time.Now().UTC()
	best.WorkerID = workerID
	best.LeaseUntil = time.Now().Add(time.Duration(q.leaseMs) * time.Millisecond).UnixMilli()
	best.Attempts++
	_ = q.persistLocked()
	cp := *best
	return &cp
}

// Claim long-polls for a queued external job for up to waitMs, returning
// (job, true) on success or (nil, false) on timeout (spec §4.E).
func (q *Queue) Claim(workerID string, executors []taskboard.Executor, models []string, waitMs int) (*Job, bool) {
	if waitMs <= 0 {
		waitMs = 1
	}
	if waitMs > 60_000 {
		waitMs = 60_000
	}
	deadline := time.Now().Add(time.Duration(waitMs) * time.Millisecond)
	for {
		q.mu.Lock()
		j := q.tryClaimLocked(workerID, executors, models)
		q.mu.Unlock()
		if j != nil {
			return j, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		remaining := time.Until(deadline)
		sleep := claimPollInterval
		if remaining < sleep {
			sleep = remaining
		}
		if sleep <= 0 {
			return nil, false
		}
		time.Sleep(sleep)
	}
}

// Heartbeat extends a running external job's lease. It does not touch the
// worker registry: WorkerRegistry.Heartbeat refreshes a worker's lastSeen.
func (q *Queue) Heartbeat(jobID string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.Status != StatusRunning || j.Runner != taskboard.RunnerExternal {
		return nil, false
	}
	j.LeaseUntil = time.Now().Add(time.Duration(q.leaseMs) * time.Millisecond).UnixMilli()
	_ = q.persistLocked()
	cp := *j
	return &cp, true
}

// CompleteExternal records an external worker's result, rejecting stale
// completions whose lease has already been recycled (spec §4.E, §4.F:
// "the server does not care whether a job was run internally or externally
// once the completion is observed").
func (q *Queue) CompleteExternal(jobID, workerID string, exitCode int, stdout, stderr string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != StatusRunning || j.WorkerID != workerID {
		return nil, ErrStaleCompletion
	}
	j.Status = StatusDone
	if exitCode != 0 {
		j.Status = StatusFailed
		// Reason is left empty: the verdict pipeline's failure classifier
		// (step 5) inspects stderr to distinguish rate_limited/unauthorized/
		// forbidden/etc rather than collapsing every nonzero exit to one
		// generic reason here.
	}
	j.ExitCode = exitCode
	j.Stdout = stdout
	j.Stderr = stderr
	j.FinishedAt = time.Now().UTC()
	if err := q.persistLocked(); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

// SweepExpiredLeases resets any external+running job whose lease has
// elapsed back to queued, emitting job_lease_expired (spec §4.E "Lease
// expiry sweep").
func (q *Queue) SweepExpiredLeases(now time.Time, registry *WorkerRegistry) []*Job {
	q.mu.Lock()
	var expired []*Job
	nowMs := now.UnixMilli()
	for _, j := range q.jobs {
		if j.Status == StatusRunning && j.Runner == taskboard.RunnerExternal && j.LeaseUntil > 0 && j.LeaseUntil <= nowMs {
			workerID := j.WorkerID
			j.Status = StatusQueued
			j.WorkerID = ""
			j.LeaseUntil = 0
			if registry != nil && workerID != "" {
				registry.setRunning(workerID, "")
			}
			cp := *j
			expired = append(expired, &cp)
		}
	}
	if len(expired) > 0 {
		_ = q.persistLocked()
	}
	q.mu.Unlock()

	if q.events != nil {
		for _, j := range expired {
			_ = q.events.Append(eventlog.Warn(eventlog.TypeJobLeaseExpired, map[string]any{"job_id": j.ID, "task_id": j.TaskID}))
		}
	}
	return expired
}
