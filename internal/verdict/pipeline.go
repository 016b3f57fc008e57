package verdict

import (
	"context"
	"log"

	"github.com/kilroy-labs/factoryctl/internal/degrade"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/fixup"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// Pipeline runs the verdict pipeline (spec §4.I) once per terminal job.
type Pipeline struct {
	Board  *taskboard.Board
	Queue  *jobqueue.Queue
	Fixup  *fixup.Loops
	Events *eventlog.Writer
	Log    *log.Logger

	// Breakers, if set, is recorded into once per terminal job (spec §4.K):
	// a pass/fail outcome for the job's cluster key (reason, role, task
	// class, executor).
	Breakers *degrade.BreakerSet

	CIGate          CIGateConfig
	RequireSubmit   map[taskboard.Executor]bool
	RequireCIGate   bool
}

func (p *Pipeline) emit(e eventlog.Event) {
	if p.Events == nil {
		return
	}
	_ = p.Events.Append(e)
}

// Run evaluates steps 1-7 of spec §4.I for the given job, which must
// already be in a terminal status (done or failed) with stdout/stderr
// recorded. agentMessageText is the agent-channel transcript, if any,
// consulted only when no SUBMIT: line appears in raw stdout.
func (p *Pipeline) Run(ctx context.Context, jobID string, agentMessageText string) (*taskboard.Task, *jobqueue.Job, error) {
	job, ok := p.Queue.Get(jobID)
	if !ok {
		return nil, nil, jobqueue.ErrNotFound
	}
	task, ok := p.Board.Get(job.TaskID)
	if !ok {
		return nil, nil, taskboard.ErrNotFound
	}

	status := job.Status
	reason := job.Reason

	// Step 1: patch stats (informational).
	patchStats := ExtractPatchStats(job.Stdout)

	// Step 2: SUBMIT parse.
	submit, found, parseErr := ResolveSubmit(job.Stdout, agentMessageText)
	switch {
	case parseErr != nil:
		status = jobqueue.StatusFailed
		reason = string(taxonomy.SchemaViolation)
	case !found && p.RequireSubmit[job.Executor] && status == jobqueue.StatusDone:
		status = jobqueue.StatusFailed
		reason = string(taxonomy.MissingSubmitContract)
	}

	var ciGate *jobqueue.CIGateResult
	// Step 3: CI gate, only if still done.
	if status == jobqueue.StatusDone && p.RequireCIGate {
		ciGate = RunCIGate(ctx, p.CIGate, job, task.Area)
		if ciGate == nil {
			p.emit(eventlog.Info(eventlog.TypeCIGateSkipped, map[string]any{"job_id": job.ID}))
		} else {
			p.emit(eventlog.Info(eventlog.TypeCIGateResult, map[string]any{
				"job_id": job.ID, "ok": ciGate.OK, "command": ciGate.Command, "evidenceValid": ciGate.EvidenceValid,
			}))
			if !ciGate.OK || !ciGate.EvidenceValid {
				status = jobqueue.StatusFailed
				if ciGate.Reason == "no_allowed_command" {
					reason = string(taxonomy.NoAllowedCommand)
				} else {
					reason = string(taxonomy.CIFailed)
				}
			}
		}
	}

	// Step 4: hygiene gate, only when SUBMIT parsed and still done.
	if status == jobqueue.StatusDone && submit != nil {
		var allowedPaths []string
		if task.Pins != nil {
			allowedPaths = task.Pins.AllowedPaths
		}
		hygiene := CheckHygiene(submit, allowedPaths)
		if !hygiene.OK {
			status = jobqueue.StatusFailed
			reason = string(hygiene.Reason)
		}
	}

	// Step 5: failure classification for raw executor errors (job already
	// carries a reason from the executor runner in that case; only
	// classify here if still unreasoned).
	if status == jobqueue.StatusFailed && reason == "" {
		reason = string(ClassifyExecutorFailure(false, job.ExitCode, job.Stderr))
	}

	finishedJob, err := p.Queue.Mutate(job.ID, func(j *jobqueue.Job) error {
		j.Status = status
		j.Reason = reason
		j.PatchStats = patchStats
		j.CIGate = ciGate
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	p.emit(eventlog.Info(eventlog.TypeJobFinished, map[string]any{"job_id": job.ID, "task_id": job.TaskID, "status": status, "reason": reason}))

	// Step 6: board update.
	taskStatus := TaskStatusForJobStatus(status == jobqueue.StatusDone)
	updatedTask, err := p.Board.Mutate(job.TaskID, func(t *taskboard.Task) error {
		t.Status = taskStatus
		t.LastJobID = job.ID
		t.LastJobStatus = string(status)
		t.LastJobReason = reason
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	p.emit(eventlog.Info(eventlog.TypeBoardTaskCompleted, map[string]any{"task_id": job.TaskID, "job_id": job.ID, "status": taskStatus, "reason": reason}))

	// Step 7: trigger fixup loops on specific taxonomies (spec §4.J).
	if p.Fixup != nil && status == jobqueue.StatusFailed {
		p.triggerLoops(taxonomy.Reason(reason), job.TaskID, job.ID, len(updatedTask.AllowedModels))
	}

	if p.Breakers != nil {
		p.Breakers.RecordOutcome(degrade.ClusterKey{
			Reason:    taxonomy.Reason(reason),
			Role:      updatedTask.Role,
			TaskClass: updatedTask.TaskClass,
			Executor:  job.Executor,
		}, status == jobqueue.StatusFailed)
	}

	return updatedTask, finishedJob, nil
}

func (p *Pipeline) triggerLoops(reason taxonomy.Reason, taskID, jobID string, poolLen int) {
	switch reason {
	case taxonomy.Timeout:
		_, _ = p.Fixup.TimeoutRequeue(taskID, jobID)
	case taxonomy.RateLimited, taxonomy.Unauthorized, taxonomy.Forbidden:
		_, _ = p.Fixup.ModelThrottleLadder(taskID, jobID, reason, poolLen)
	case taxonomy.CIFailed, taxonomy.NoAllowedCommand:
		_, _ = p.Fixup.CreateCIFixup(taskID, jobID)
	case taxonomy.PinsInsufficient, taxonomy.MissingPinsTemplate:
		_, _ = p.Fixup.CreatePinsFixup(taskID, jobID)
	}
}
