// Package jobqueue implements the job queue and scheduler (spec §4.E): an
// in-memory map of job id -> job durably snapshotted via the atomic state
// store, priority+age scheduling for internal jobs, and a claim/lease
// protocol for external workers. Grounded on the teacher's engine.go run
// loop (single-threaded scheduling decision, parallel execution) and its
// manifest/checkpoint persistence idiom.
package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

// Status is the job lifecycle state (spec §3 Job).
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// CIGateResult is the outcome of the CI gate step of the verdict pipeline
// (spec §4.I step 3).
type CIGateResult struct {
	OK             bool   `json:"ok"`
	Command        string `json:"command,omitempty"`
	ExitCode       int    `json:"exitCode"`
	StdoutPath     string `json:"stdoutPath,omitempty"`
	StderrPath     string `json:"stderrPath,omitempty"`
	StdoutSHA256   string `json:"stdoutSha256,omitempty"`
	StderrSHA256   string `json:"stderrSha256,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
	EvidenceValid  bool   `json:"evidenceValid"`
	Reason         string `json:"reason,omitempty"`
}

// PatchStats summarizes the first *** Begin Patch ... *** End Patch block
// found in job stdout (spec §4.I step 1, informational only).
type PatchStats struct {
	Added   int      `json:"added"`
	Removed int      `json:"removed"`
	Hunks   int      `json:"hunks"`
	Files   []string `json:"files,omitempty"`
}

// Job is one execution attempt against a task (spec §3 Job).
type Job struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Attempts   int       `json:"attempts"`

	TaskID     string            `json:"taskId"`
	Executor   taskboard.Executor `json:"executor"`
	Model      string            `json:"model"`
	TimeoutMs  int               `json:"timeoutMs"`
	Runner     taskboard.Runner  `json:"runner"`
	WorkerID   string            `json:"workerId,omitempty"`
	LeaseUntil int64             `json:"leaseUntil,omitempty"`
	Priority   int               `json:"priority"`

	Prompt        string `json:"prompt"`
	ContextPackID string `json:"contextPackId,omitempty"`
	ThreadID      string `json:"threadId,omitempty"`
	AllowedTests  []string `json:"allowedTests,omitempty"`
	BoardTaskArea string `json:"boardTaskArea,omitempty"`

	Status   Status `json:"status"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Reason   string `json:"reason,omitempty"`

	SubmitRaw  json.RawMessage `json:"submitRaw,omitempty"`
	PatchStats *PatchStats     `json:"patchStats,omitempty"`
	CIGate     *CIGateResult   `json:"ciGate,omitempty"`
}

// IsTerminal reports whether the job has reached done or failed.
func (j Job) IsTerminal() bool { return j.Status == StatusDone || j.Status == StatusFailed }

// IsActive reports whether the job is queued or running (used for dispatch
// idempotency, spec §4.H step 3).
func (j Job) IsActive() bool { return j.Status == StatusQueued || j.Status == StatusRunning }

// Snapshot is the on-disk shape of artifacts/executor_logs/jobs_state.json.
type Snapshot struct {
	Jobs map[string]*Job `json:"jobs"`
}
