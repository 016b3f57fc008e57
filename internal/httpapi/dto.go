package httpapi

import (
	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

// CreateTaskRequest is the body of POST /board/tasks (spec §6).
type CreateTaskRequest struct {
	ParentID         string                `json:"parentId,omitempty"`
	Kind             taskboard.Kind        `json:"kind,omitempty"`
	Title            string                `json:"title" validate:"required"`
	Goal             string                `json:"goal" validate:"required"`
	Role             taskboard.Role        `json:"role,omitempty"`
	AllowedExecutors []taskboard.Executor  `json:"allowedExecutors,omitempty"`
	AllowedModels    []string              `json:"allowedModels,omitempty"`
	RunnerHint       taskboard.Runner      `json:"runnerHint,omitempty"`
	Lane             taskboard.Lane        `json:"lane,omitempty"`
	Priority         int                   `json:"priority,omitempty"`
	Files            []string              `json:"files,omitempty"`
	Skills           []string              `json:"skills,omitempty"`
	Pins             *contextpack.Pins     `json:"pins,omitempty"`
	PinsInstance     *contextpack.Pins     `json:"pinsInstance,omitempty"`
	PinsTemplateID   string                `json:"pinsTemplateId,omitempty"`
	AllowedTests     []string              `json:"allowedTests,omitempty"`
	Contract         string                `json:"contract,omitempty"`
	Assumptions      string                `json:"assumptions,omitempty"`
	Area             string                `json:"area,omitempty"`
	TaskClass        string                `json:"taskClass,omitempty"`
	ToolingRules     string                `json:"toolingRules,omitempty"`
}

func (r CreateTaskRequest) toCreateInput() taskboard.CreateInput {
	return taskboard.CreateInput{
		ParentID:         r.ParentID,
		Kind:             r.Kind,
		Title:            r.Title,
		Goal:             r.Goal,
		Role:             r.Role,
		AllowedExecutors: r.AllowedExecutors,
		AllowedModels:    r.AllowedModels,
		RunnerHint:       r.RunnerHint,
		Lane:             r.Lane,
		Priority:         r.Priority,
		Files:            r.Files,
		Skills:           r.Skills,
		Pins:             r.Pins,
		PinsInstance:     r.PinsInstance,
		PinsTemplateID:   r.PinsTemplateID,
		AllowedTests:     r.AllowedTests,
		Contract:         r.Contract,
		Assumptions:      r.Assumptions,
		Area:             r.Area,
		TaskClass:        r.TaskClass,
		ToolingRules:     r.ToolingRules,
	}
}

// StatusRequest is the body of POST /board/tasks/:id/status.
type StatusRequest struct {
	Status taskboard.Status `json:"status" validate:"required"`
}

// UpdateTaskRequest is the body of POST /board/tasks/:id/update: every
// field is optional, matching taskboard.UpdateFields' pointer-means-unset
// semantics.
type UpdateTaskRequest struct {
	Status       *taskboard.Status `json:"status,omitempty"`
	Runner       *taskboard.Runner `json:"runner,omitempty"`
	Goal         *string           `json:"goal,omitempty"`
	Files        []string          `json:"files,omitempty"`
	Skills       []string          `json:"skills,omitempty"`
	Pointers     *taskboard.Pointers `json:"pointers,omitempty"`
	Pins         *contextpack.Pins `json:"pins,omitempty"`
	Contract     *string           `json:"contract,omitempty"`
	AllowedTests []string          `json:"allowedTests,omitempty"`
	ToolingRules *string           `json:"toolingRules,omitempty"`
	Area         *string           `json:"area,omitempty"`
	TaskClass    *string           `json:"taskClass,omitempty"`
}

func (r UpdateTaskRequest) toUpdateFields() taskboard.UpdateFields {
	return taskboard.UpdateFields{
		Status:       r.Status,
		Runner:       r.Runner,
		Goal:         r.Goal,
		Files:        r.Files,
		Skills:       r.Skills,
		Pointers:     r.Pointers,
		Pins:         r.Pins,
		Contract:     r.Contract,
		AllowedTests: r.AllowedTests,
		ToolingRules: r.ToolingRules,
		Area:         r.Area,
		TaskClass:    r.TaskClass,
	}
}

// SplitApplyRequest is the body of POST /board/tasks/:id/split/apply (spec
// §4.D): the caller hands back whatever text the planner job produced; the
// agent-message channel is searched before raw stdout, per the ordering
// ExtractFirstBalancedArray's caller implements.
type SplitApplyRequest struct {
	AgentMessageText string `json:"agentMessageText,omitempty"`
	RawText          string `json:"rawText,omitempty"`
	TwoPhasePins     bool   `json:"twoPhasePins,omitempty"`
}

// AtomicJobRequest is the body of POST /executor/jobs/atomic (spec §6:
// "create a job directly from goal+files/pins").
type AtomicJobRequest struct {
	Goal         string             `json:"goal" validate:"required"`
	Title        string             `json:"title,omitempty"`
	Role         taskboard.Role     `json:"role,omitempty"`
	Executor     taskboard.Executor `json:"executor" validate:"required"`
	Model        string             `json:"model,omitempty"`
	Files        []string           `json:"files,omitempty"`
	Pins         *contextpack.Pins  `json:"pins,omitempty"`
	AllowedTests []string           `json:"allowedTests,omitempty"`
	Area         string             `json:"area,omitempty"`
	Priority     int                `json:"priority,omitempty"`
	TimeoutMs    int                `json:"timeoutMs,omitempty"`
	Runner       taskboard.Runner   `json:"runner,omitempty"`
}

// CompleteJobRequest is the body of POST /executor/jobs/:id/complete (spec
// §4.E/§4.F external completion).
type CompleteJobRequest struct {
	WorkerID string `json:"workerId" validate:"required"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	// AgentMessageText is the structured-channel text some executors also
	// surface alongside raw stdout; the verdict pipeline's SUBMIT
	// precedence rule (raw stdout wins) applies regardless.
	AgentMessageText string `json:"agentMessageText,omitempty"`
}

// RegisterWorkerRequest is the body of POST /executor/workers/register.
type RegisterWorkerRequest struct {
	Name      string               `json:"name" validate:"required"`
	Executors []taskboard.Executor `json:"executors" validate:"required,min=1"`
	Models    []string             `json:"models,omitempty"`
}

// ContextPackRequest is the body of POST /executor/contextpacks.
type ContextPackRequest struct {
	Pins     *contextpack.Pins `json:"pins,omitempty"`
	Files    []string          `json:"files,omitempty"`
	MaxBytes int               `json:"maxBytes,omitempty"`
}

// ConfigSetRequest is the body of POST /config/set.
type ConfigSetRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}
