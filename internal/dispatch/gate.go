package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/fixup"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/modelrouter"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// QuarantineChecker reports whether the global degradation mode currently
// restricts dispatch to an allowlist of roles/classes (spec §4.K
// "Quarantine"). Implemented by internal/degrade.Engine; declared here to
// avoid a dispatch<->degrade import cycle.
type QuarantineChecker interface {
	Blocked(role taskboard.Role, taskClass string) bool
}

// Config bundles the gate's tunables (spec §6 runtime.env registry
// entries: EXEC_REQUIRE_PINS, QUALITY_GATE_*, ...).
type Config struct {
	QualityGateThreshold  float64
	QualityGateMinSamples int
	DesiredOpenCodeRatio  float64
	DefaultTimeoutMs      int
	ContextPackMaxBytes   int
	RequirePinsTemplate   bool
	PreferredModelTag     string
}

// GateError carries a taxonomy reason back to the HTTP layer (spec §6
// "400 with error name").
type GateError struct {
	Reason taxonomy.Reason
}

func (e *GateError) Error() string { return string(e.Reason) }

// Gate implements the preflight & dispatch checks of spec §4.H.
type Gate struct {
	Board       *taskboard.Board
	Queue       *jobqueue.Queue
	Builder     *contextpack.Builder
	Router      *modelrouter.Router
	RolePolicy  *RolePolicy
	Quality     *QualityGate
	Quarantine  QuarantineChecker
	Events      *eventlog.Writer
	Config      Config
	ModelPoolFn func(executor taskboard.Executor) []string
	// Fixup, if set, lets a pins rejection spawn a Pins-fixup child (spec
	// §4.J) instead of only surfacing as an HTTP 400 (spec §4.H step 6/7).
	Fixup *fixup.Loops
}

// rejectPins returns a GateError for reason after best-effort triggering a
// Pins fixup child for taskID, so that pins_insufficient/missing_pins(_template)
// rejections are recoverable rather than a dead end the caller must retry by
// hand (spec §4.J).
func (g *Gate) rejectPins(taskID string, reason taxonomy.Reason) *GateError {
	if g.Fixup != nil {
		_, _ = g.Fixup.CreatePinsFixup(taskID, "")
	}
	return &GateError{Reason: reason}
}

// runningRatio reports the current running-job share of opencode vs all
// executors, used to balance executor selection toward a desired ratio
// (spec §4.H step 8).
func (g *Gate) runningRatio() float64 {
	jobs := g.Queue.List()
	var occli, total int
	for _, j := range jobs {
		if j.Status != jobqueue.StatusRunning {
			continue
		}
		total++
		if j.Executor == taskboard.ExecutorOpenCodeCLI {
			occli++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(occli) / float64(total)
}

// chooseExecutor implements spec §4.H step 8.
func (g *Gate) chooseExecutor(t *taskboard.Task) (taskboard.Executor, error) {
	if t.Role == taskboard.RoleDesigner {
		for _, e := range t.AllowedExecutors {
			if e == taskboard.ExecutorCodex {
				return taskboard.ExecutorCodex, nil
			}
		}
		return taskboard.ExecutorCodex, nil
	}
	if len(t.AllowedExecutors) == 1 {
		return t.AllowedExecutors[0], nil
	}
	if len(t.AllowedExecutors) == 0 {
		return "", fmt.Errorf("no allowed executors")
	}
	ratio := g.runningRatio()
	target := g.Config.DesiredOpenCodeRatio
	if target == 0 {
		target = 0.5
	}
	hasOCcli := false
	for _, e := range t.AllowedExecutors {
		if e == taskboard.ExecutorOpenCodeCLI {
			hasOCcli = true
		}
	}
	if hasOCcli && ratio < target {
		return taskboard.ExecutorOpenCodeCLI, nil
	}
	for _, e := range t.AllowedExecutors {
		if e != taskboard.ExecutorOpenCodeCLI {
			return e, nil
		}
	}
	return t.AllowedExecutors[0], nil
}

// Dispatch runs the ordered gate checks of spec §4.H and, on success,
// creates a queued job. Any failing check returns a *GateError.
func (g *Gate) Dispatch(ctx context.Context, taskID string) (*taskboard.Task, *jobqueue.Job, error) {
	// Step 1: existence/state.
	t, ok := g.Board.Get(taskID)
	if !ok {
		return nil, nil, fmt.Errorf("task not found")
	}
	if t.Kind != taskboard.KindAtomic || !(t.Status == taskboard.StatusReady || t.Status == taskboard.StatusBacklog) || t.PinsPending {
		// A task dispatched earlier is in_progress: report its active job
		// as already_dispatched rather than as a state error.
		if active, isActive := g.Queue.ActiveForTask(taskID); isActive {
			return nil, nil, &dispatchIdempotencyError{jobID: active.ID}
		}
		return nil, nil, &GateError{Reason: taxonomy.MissingFiles}
	}

	if g.Quarantine != nil && g.Quarantine.Blocked(t.Role, t.TaskClass) {
		return nil, nil, &GateError{Reason: taxonomy.Quarantined}
	}

	// Step 2: allowedTests contains >=1 non-selftest command.
	if !hasRealTest(t.AllowedTests) {
		return nil, nil, &GateError{Reason: taxonomy.MissingRealTest}
	}

	// Step 3: idempotency.
	if active, isActive := g.Queue.ActiveForTask(taskID); isActive {
		return nil, nil, &dispatchIdempotencyError{jobID: active.ID}
	}

	// Step 4: files/pins inference, re-check.
	if len(t.Files) == 0 && t.Pins == nil {
		return nil, nil, &GateError{Reason: taxonomy.MissingFiles}
	}

	// Step 5: quality gate.
	if g.Quality != nil && g.Quality.Blocked(t.Area, g.Config.QualityGateThreshold, g.Config.QualityGateMinSamples) {
		return nil, nil, &GateError{Reason: taxonomy.QualityGateBlocked}
	}

	// Step 6: resolve effective pins.
	effectivePins := t.Pins
	if effectivePins == nil && t.PinsInstance != nil {
		effectivePins = t.PinsInstance
	}
	if effectivePins == nil && t.PinsTemplateID != "" {
		return nil, nil, g.rejectPins(t.ID, taxonomy.MissingPinsTemplate)
	}
	if effectivePins == nil && g.Config.RequirePinsTemplate {
		return nil, nil, g.rejectPins(t.ID, taxonomy.MissingPins)
	}

	if g.RolePolicy != nil && t.Role != "" && len(t.Files) > 0 {
		allowed, err := g.RolePolicy.Allowed(ctx, t.Role, t.Files)
		if err == nil && !allowed {
			return nil, nil, &GateError{Reason: taxonomy.RolePolicyViolation}
		}
	}

	// Step 7: build context pack.
	var pack *contextpack.Pack
	var err error
	if effectivePins != nil {
		pack, err = g.Builder.BuildFromPins(*effectivePins, g.Config.ContextPackMaxBytes)
	} else {
		pack, err = g.Builder.BuildFromFiles(t.Files, g.Config.ContextPackMaxBytes)
	}
	if err != nil {
		return nil, nil, g.rejectPins(t.ID, taxonomy.PinsInsufficient)
	}
	g.emit(eventlog.Info(eventlog.TypeContextPackPinsCreated, map[string]any{
		"task_id": t.ID, "pack_id": pack.ID, "files": len(pack.Files), "bytes": pack.ByteSize,
	}))

	// Step 8: pick executor.
	executor, err := g.chooseExecutor(t)
	if err != nil {
		return nil, nil, &GateError{Reason: taxonomy.RolePolicyViolation}
	}

	// Step 9: pick model.
	pool := t.AllowedModels
	if g.ModelPoolFn != nil && len(pool) == 0 {
		pool = g.ModelPoolFn(executor)
	}
	isOpenCode := executor == taskboard.ExecutorOpenCodeCLI
	pool = modelrouter.FilterForExecutor(modelrouter.SortStrongToWeak(pool, g.Config.PreferredModelTag), isOpenCode)
	if len(pool) == 0 {
		pool = t.AllowedModels
	}
	attempt := t.ModelAttempt
	if t.TimeoutRetries > attempt {
		attempt = t.TimeoutRetries
	}
	model, err := g.Router.Pick(string(executor)+":"+t.ID, pool, attempt)
	if err != nil {
		return nil, nil, fmt.Errorf("pick model: %w", err)
	}

	runner := taskboard.RunnerInternal
	if t.RunnerHint == taskboard.RunnerExternal {
		runner = taskboard.RunnerExternal
	}

	timeoutMs := g.Config.DefaultTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = int(10 * time.Minute / time.Millisecond)
	}

	// Step 10: record route_decision, create job.
	job := g.Queue.Create(jobqueue.CreateInput{
		TaskID:        t.ID,
		Executor:      executor,
		Model:         model,
		TimeoutMs:     timeoutMs,
		Runner:        runner,
		Prompt:        buildPrompt(t, pack),
		ContextPackID: pack.ID,
		AllowedTests:  t.AllowedTests,
		BoardTaskArea: t.Area,
		Priority:      t.Priority,
	})

	g.emit(eventlog.Info(eventlog.TypeRouteDecision, map[string]any{
		"task_id": t.ID, "job_id": job.ID, "executor": executor, "model": model, "runner": runner,
	}))

	updated, err := g.Board.AdminSetStatus(t.ID, taskboard.StatusInProgress, "")
	if err != nil {
		return nil, nil, err
	}
	_, _ = g.Board.Mutate(t.ID, func(task *taskboard.Task) error {
		task.LastJobID = job.ID
		task.LastJobStatus = string(jobqueue.StatusQueued)
		return nil
	})

	return updated, job, nil
}

func (g *Gate) emit(e eventlog.Event) {
	if g.Events == nil {
		return
	}
	_ = g.Events.Append(e)
}

var allowlistedTestPrefixes = []string{
	"python -m pytest", "pytest", "npm test", "pnpm test", "yarn test",
	"bun test", "go test", "cargo test", "dotnet test",
}

func hasRealTest(tests []string) bool {
	for _, c := range tests {
		lower := strings.ToLower(strings.TrimSpace(c))
		if strings.Contains(lower, "selftest") {
			continue
		}
		return true
	}
	return false
}

func buildPrompt(t *taskboard.Task, pack *contextpack.Pack) string {
	var sb strings.Builder
	sb.WriteString("# role: ")
	sb.WriteString(string(t.Role))
	sb.WriteString("\n# goal\n")
	sb.WriteString(t.Goal)
	sb.WriteString("\n\n")
	if t.Contract != "" {
		sb.WriteString("# acceptance\n")
		sb.WriteString(t.Contract)
		sb.WriteString("\n\n")
	}
	sb.WriteString(pack.Content)
	return sb.String()
}

func newRouteID() string { return ulid.Make().String() }

// dispatchIdempotencyError is returned when a second dispatch is attempted
// while an active job exists (spec §4.H step 3, §8 invariant).
type dispatchIdempotencyError struct {
	jobID string
}

func (e *dispatchIdempotencyError) Error() string { return string(taxonomy.AlreadyDispatched) }

// JobID returns the id of the already-active job.
func (e *dispatchIdempotencyError) JobID() string { return e.jobID }

// AsIdempotencyError extracts the active job id from err if it represents
// an already_dispatched rejection.
func AsIdempotencyError(err error) (string, bool) {
	if e, ok := err.(*dispatchIdempotencyError); ok {
		return e.jobID, true
	}
	return "", false
}
