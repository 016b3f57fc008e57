package jobqueue

import "time"

// Finish transitions a running job to a terminal status with its outputs,
// called by the executor runner (internal) or the external completion
// handler once stdout/stderr/exit_code are observed (spec §4.E/§4.F).
func (q *Queue) Finish(id string, status Status, exitCode int, stdout, stderr, reason string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	j.Status = status
	j.ExitCode = exitCode
	j.Stdout = stdout
	j.Stderr = stderr
	j.Reason = reason
	j.FinishedAt = time.Now().UTC()
	_ = q.persistLocked()
	cp := *j
	return &cp, true
}

// Mutate applies fn to the job under the queue lock and persists the
// result, used by the verdict pipeline to attach patch stats/submit/ci-gate
// data or flip a job from done to failed during hygiene checks.
func (q *Queue) Mutate(id string, fn func(j *Job) error) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	if err := q.persistLocked(); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

// Requeue resets a job back to queued, clearing stdout/stderr while
// preserving attempts (spec §4.E "Cancellation/requeue").
func (q *Queue) Requeue(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j.Status = StatusQueued
	j.Stdout = ""
	j.Stderr = ""
	j.WorkerID = ""
	j.LeaseUntil = 0
	if err := q.persistLocked(); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

// Cancel fails an external job with reason canceled_by_leader. Internal
// jobs cannot be externally cancelled (spec §4.E).
func (q *Queue) Cancel(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Runner != "external" {
		return nil, ErrCannotCancelInternal
	}
	j.Status = StatusFailed
	j.Reason = "canceled_by_leader"
	j.FinishedAt = time.Now().UTC()
	if err := q.persistLocked(); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}
