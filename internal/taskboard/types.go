// Package taskboard implements the persistent task board (spec §4.D): task
// lifecycle, parent/child relationships, and the fail-closed creation
// rules. It is grounded on the teacher's engine.go checkpoint/manifest
// pattern for snapshot persistence and on config.go's validateConfig for
// the shape of exhaustive field-by-field validation.
package taskboard

import (
	"time"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
)

// Kind distinguishes a single-invocation atomic task from a parent task
// that must be split.
type Kind string

const (
	KindParent Kind = "parent"
	KindAtomic Kind = "atomic"
)

// Role is the closed enum of task roles (spec §3).
type Role string

const (
	RoleDesigner      Role = "designer"
	RoleArchitect     Role = "architect"
	RoleIntegrator    Role = "integrator"
	RoleEngineer      Role = "engineer"
	RoleQA            Role = "qa"
	RoleDoc           Role = "doc"
	RoleAuditor       Role = "auditor"
	RoleStatusReview  Role = "status_review"
	RoleFactoryManager Role = "factory_manager"
	RolePinser        Role = "pinser"
)

var validRoles = map[Role]bool{
	RoleDesigner: true, RoleArchitect: true, RoleIntegrator: true, RoleEngineer: true,
	RoleQA: true, RoleDoc: true, RoleAuditor: true, RoleStatusReview: true,
	RoleFactoryManager: true, RolePinser: true,
}

// Lane is the priority class a task lives in.
type Lane string

const (
	LaneFastlane   Lane = "fastlane"
	LaneMainlane   Lane = "mainlane"
	LaneBatchlane  Lane = "batchlane"
	LaneQuarantine Lane = "quarantine"
	LaneDLQ        Lane = "dlq"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusNeedsSplit Status = "needs_split"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Runner is where a task's jobs execute.
type Runner string

const (
	RunnerInternal Runner = "internal"
	RunnerExternal Runner = "external"
)

// Executor is the closed enum of executor drivers (spec §4.F).
type Executor string

const (
	ExecutorCodex      Executor = "codex"
	ExecutorOpenCodeCLI Executor = "opencodecli"
)

// Pointers links a fixup/child task back to the task and job that spawned
// it (spec §4.J).
type Pointers struct {
	SourceTaskID string `json:"sourceTaskId,omitempty"`
	SourceJobID  string `json:"sourceJobId,omitempty"`
}

// Task is a unit of work on the board (spec §3).
type Task struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ParentID  string    `json:"parentId,omitempty"`
	Kind      Kind      `json:"kind"`

	Title string `json:"title"`
	Goal  string `json:"goal"`
	Role  Role   `json:"role"`

	AllowedExecutors []Executor `json:"allowedExecutors"`
	AllowedModels    []string   `json:"allowedModels,omitempty"`
	RunnerHint       Runner     `json:"runnerHint,omitempty"`
	Lane             Lane       `json:"lane"`
	Priority         int        `json:"priority,omitempty"`

	Files            []string            `json:"files,omitempty"`
	Skills           []string            `json:"skills,omitempty"`
	Pins             *contextpack.Pins   `json:"pins,omitempty"`
	PinsInstance     *contextpack.Pins   `json:"pinsInstance,omitempty"`
	PinsTemplateID   string              `json:"pinsTemplateId,omitempty"`
	AllowedTests     []string            `json:"allowedTests,omitempty"`
	Contract         string              `json:"contract,omitempty"`
	Assumptions      string              `json:"assumptions,omitempty"`
	Area             string              `json:"area,omitempty"`
	TaskClass        string              `json:"taskClass,omitempty"`
	ToolingRules     string              `json:"toolingRules,omitempty"`
	Pointers         Pointers            `json:"pointers,omitempty"`

	Status Status `json:"status"`

	LastJobID       string `json:"lastJobId,omitempty"`
	LastJobStatus   string `json:"lastJobStatus,omitempty"`
	LastJobReason   string `json:"lastJobReason,omitempty"`
	LastJobFinished time.Time `json:"lastJobFinishedAt,omitempty"`

	TimeoutRetries  int   `json:"timeoutRetries"`
	ModelAttempt    int   `json:"modelAttempt"`
	CIFixupCount    int   `json:"ciFixupCount"`
	PinsFixupCount  int   `json:"pinsFixupCount"`
	CIRequeueCount  int   `json:"ciRequeueCount"`
	PinsRequeueCount int  `json:"pinsRequeueCount"`
	CooldownUntil   int64 `json:"cooldownUntil,omitempty"`

	PinsPending bool `json:"pinsPending,omitempty"`
}

// IsDispatchable reports whether the task is in a state from which the
// dispatch gate (§4.H) may run.
func (t Task) IsDispatchable() bool {
	return t.Kind == KindAtomic && (t.Status == StatusReady || t.Status == StatusBacklog) && !t.PinsPending
}

// Snapshot is the on-disk shape of artifacts/taskboard/tasks.json.
type Snapshot struct {
	Tasks map[string]*Task `json:"tasks"`
}
