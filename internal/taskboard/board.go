package taskboard

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/stateio"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// DefaultChildBudget is the default per-parent split-apply child cap (spec
// §4.D).
const DefaultChildBudget = 30

// inferExtensionPattern mirrors spec §4.D's regex-inferred file extension set.
var inferExtensionPattern = regexp.MustCompile(`(?i)[\w./-]+\.(md|mjs|js|ts|tsx|py|json|yaml|yml|toml|ps1|sh)\b`)

var selftestPattern = regexp.MustCompile(`(?i)selftest`)

// RolePolicy answers whether role may touch the given repo-relative paths.
// A nil RolePolicy is permissive (no role/path restriction enforced).
type RolePolicy func(role Role, paths []string) bool

// Options configures a Board's fail-closed create behavior.
type Options struct {
	InferEnabled      bool
	CIEnforcementOn   bool
	AutoSelftestOK    bool
	ChildBudget       int
	RolePolicy        RolePolicy
}

// ValidationError is returned by Create when a fail-closed rule rejects the
// request; Reason is one of the taxonomy.Reason input-validation codes.
type ValidationError struct {
	Reason taxonomy.Reason
}

func (e *ValidationError) Error() string { return string(e.Reason) }

// Board is the persistent set of tasks with lifecycle, relationships, and
// invariants (spec §4.D). Grounded on the teacher's manifest/checkpoint
// persistence idiom: an in-memory map flushed to a single snapshot file
// under the atomic state store lock.
type Board struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	file   string
	log    *log.Logger
	events *eventlog.Writer
	opts   Options
}

// New constructs a Board persisting to file.
func New(file string, events *eventlog.Writer, logger *log.Logger, opts Options) *Board {
	if opts.ChildBudget <= 0 {
		opts.ChildBudget = DefaultChildBudget
	}
	return &Board{
		tasks:  map[string]*Task{},
		file:   file,
		log:    logger,
		events: events,
		opts:   opts,
	}
}

// Load reads the snapshot file, tolerating a missing file (fresh start).
func (b *Board) Load() error {
	snap, err := stateio.ReadJSON(b.file, Snapshot{Tasks: map[string]*Task{}})
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if snap.Tasks == nil {
		snap.Tasks = map[string]*Task{}
	}
	b.tasks = snap.Tasks
	return nil
}

// persist must be called with b.mu held (read or write lock is fine since
// WriteJSONAtomic takes its own snapshot of the map contents).
func (b *Board) persist() error {
	return stateio.WithFileLock(b.file, 0, func() error {
		return stateio.WriteJSONAtomic(b.file, Snapshot{Tasks: b.tasks})
	})
}

func newID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

// CreateInput is the validated set of fields accepted by Create.
type CreateInput struct {
	ParentID         string
	Kind             Kind
	Title            string
	Goal             string
	Role             Role
	AllowedExecutors []Executor
	AllowedModels    []string
	RunnerHint       Runner
	Lane             Lane
	Priority         int
	Files            []string
	Skills           []string
	Pins             *contextpack.Pins
	PinsInstance     *contextpack.Pins
	PinsTemplateID   string
	AllowedTests     []string
	Contract         string
	Assumptions      string
	Area             string
	TaskClass        string
	ToolingRules     string
	Pointers         Pointers
}

// Create validates and inserts a new task (spec §4.D "Create rules
// (fail-closed)").
func (b *Board) Create(in CreateInput) (*Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, &ValidationError{Reason: taxonomy.MissingTitle}
	}
	if strings.TrimSpace(in.Goal) == "" {
		return nil, &ValidationError{Reason: taxonomy.MissingGoal}
	}
	if in.Kind == "" {
		in.Kind = KindAtomic
	}
	if in.Role != "" && !validRoles[in.Role] {
		return nil, &ValidationError{Reason: taxonomy.RolePolicyViolation}
	}

	id := newID("task")

	if in.Kind == KindAtomic {
		if len(in.Files) == 0 && in.Pins == nil {
			if b.opts.InferEnabled {
				in.Files = inferFiles(in.Title, in.Goal)
			}
			if len(in.Files) == 0 && in.Pins == nil {
				return nil, &ValidationError{Reason: taxonomy.MissingFiles}
			}
		}
		if in.Pins != nil {
			if len(in.Pins.AllowedPaths) == 0 {
				return nil, &ValidationError{Reason: taxonomy.MissingPinsAllowlist}
			}
			in.Pins = backfillPinsDefaults(in.Pins)
		} else if b.opts.InferEnabled && len(in.Files) > 0 {
			in.Pins = inferPins(in.Files)
		}

		if len(in.AllowedTests) == 0 {
			if b.opts.CIEnforcementOn && b.opts.AutoSelftestOK {
				in.AllowedTests = []string{fmt.Sprintf("selftest-command --task-id %s", id)}
			} else if b.opts.CIEnforcementOn {
				return nil, &ValidationError{Reason: taxonomy.MissingRealTest}
			}
		} else if b.opts.CIEnforcementOn && onlySelftests(in.AllowedTests) {
			return nil, &ValidationError{Reason: taxonomy.MissingRealTest}
		}

		if b.opts.RolePolicy != nil && in.Role != "" && len(in.Files) > 0 {
			if !b.opts.RolePolicy(in.Role, in.Files) {
				return nil, &ValidationError{Reason: taxonomy.RolePolicyViolation}
			}
		}
	}

	if len(in.AllowedExecutors) == 0 {
		in.AllowedExecutors = []Executor{ExecutorCodex, ExecutorOpenCodeCLI}
	}
	if in.Lane == "" {
		in.Lane = LaneMainlane
	}

	t := &Task{
		ID:               id,
		CreatedAt:        time.Now().UTC(),
		ParentID:         in.ParentID,
		Kind:             in.Kind,
		Title:            in.Title,
		Goal:             in.Goal,
		Role:             in.Role,
		AllowedExecutors: in.AllowedExecutors,
		AllowedModels:    in.AllowedModels,
		RunnerHint:       in.RunnerHint,
		Lane:             in.Lane,
		Priority:         in.Priority,
		Files:            in.Files,
		Skills:           in.Skills,
		Pins:             in.Pins,
		PinsInstance:     in.PinsInstance,
		PinsTemplateID:   in.PinsTemplateID,
		AllowedTests:     in.AllowedTests,
		Contract:         in.Contract,
		Assumptions:      in.Assumptions,
		Area:             in.Area,
		TaskClass:        in.TaskClass,
		ToolingRules:     in.ToolingRules,
		Pointers:         in.Pointers,
		Status:           StatusBacklog,
	}
	if t.Kind == KindParent {
		t.Status = StatusBacklog
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[t.ID] = t
	if err := b.persist(); err != nil {
		return nil, err
	}
	return t, nil
}

func onlySelftests(tests []string) bool {
	for _, c := range tests {
		if !selftestPattern.MatchString(c) {
			return false
		}
	}
	return true
}

func inferFiles(title, goal string) []string {
	matches := inferExtensionPattern.FindAllString(title+" "+goal, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func inferPins(files []string) *contextpack.Pins {
	return &contextpack.Pins{
		AllowedPaths:   append([]string{}, files...),
		ForbiddenPaths: append([]string{}, contextpack.DefaultForbiddenPaths...),
		MaxFiles:       len(files),
		MaxLOC:         4000,
	}
}

// backfillPinsDefaults fills in forbiddenPaths/maxFiles on a caller-supplied
// Pins that only set allowedPaths (spec §8 scenario 1: one allowed path
// backfills to max_files=1, forbidden_paths including .git), without
// mutating the caller's struct in place.
func backfillPinsDefaults(p *contextpack.Pins) *contextpack.Pins {
	out := *p
	if len(out.ForbiddenPaths) == 0 {
		out.ForbiddenPaths = append([]string{}, contextpack.DefaultForbiddenPaths...)
	}
	if out.MaxFiles <= 0 {
		out.MaxFiles = len(out.AllowedPaths)
	}
	return &out
}

// Get returns a copy of the task by id.
func (b *Board) Get(id string) (*Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// List returns all tasks sorted by createdAt ascending.
func (b *Board) List() []*Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Counts returns a status -> count map, used by GET /board.
func (b *Board) Counts() map[Status]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := map[Status]int{}
	for _, t := range b.tasks {
		counts[t.Status]++
	}
	return counts
}

// allowedArrows encodes spec §4.D's status transition table for
// operator/HTTP-driven transitions.
var allowedArrows = map[Status]map[Status]bool{
	StatusBacklog:    {StatusReady: true},
	StatusReady:      {StatusInProgress: true},
	StatusInProgress: {StatusDone: true, StatusFailed: true, StatusBlocked: true},
	StatusBlocked:    {StatusReady: true},
	StatusNeedsSplit: {StatusInProgress: true, StatusReady: true, StatusFailed: true},
	StatusFailed:     {StatusReady: true},
	StatusDone:       {},
}

// ErrInvalidTransition is returned by SetStatus for a disallowed arrow.
var ErrInvalidTransition = fmt.Errorf("invalid_status_transition")

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = fmt.Errorf("task_not_found")

// SetStatus performs an operator/HTTP-driven status transition, enforced
// against allowedArrows.
func (b *Board) SetStatus(id string, to Status) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if to == StatusDone && t.Status == StatusDone {
		return nil, ErrInvalidTransition
	}
	if arrows, ok := allowedArrows[t.Status]; !ok || !arrows[to] {
		return nil, ErrInvalidTransition
	}
	t.Status = to
	if err := b.persist(); err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

// AdminSetStatus bypasses the HTTP-facing arrow table for internal
// subsystems (verdict pipeline, fixup loops, stale recovery) that have
// already vetted the transition against their own, more detailed, rules
// (spec §4.I/§4.J). Callers pass the reason used for book-keeping fields.
func (b *Board) AdminSetStatus(id string, to Status, reason string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Status = to
	if reason != "" {
		t.LastJobReason = reason
	}
	if err := b.persist(); err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

// Mutate applies fn to the task under the board lock and persists the
// result; used by subsystems (dispatch, verdict, fixup) that need to update
// several fields atomically.
func (b *Board) Mutate(id string, fn func(t *Task) error) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := b.persist(); err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

// UpdateFields is a partial patch of mutable task fields (spec
// §6 POST /board/tasks/:id/update).
type UpdateFields struct {
	Status       *Status
	Runner       *Runner
	Goal         *string
	Files        []string
	Skills       []string
	Pointers     *Pointers
	Pins         *contextpack.Pins
	Contract     *string
	AllowedTests []string
	ToolingRules *string
	Area         *string
	TaskClass    *string
}

// Update applies a partial patch of mutable fields without arrow
// enforcement (an explicit operator override, spec §6).
func (b *Board) Update(id string, patch UpdateFields) (*Task, error) {
	return b.Mutate(id, func(t *Task) error {
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Runner != nil {
			t.RunnerHint = *patch.Runner
		}
		if patch.Goal != nil {
			t.Goal = *patch.Goal
		}
		if patch.Files != nil {
			t.Files = patch.Files
		}
		if patch.Skills != nil {
			t.Skills = patch.Skills
		}
		if patch.Pointers != nil {
			t.Pointers = *patch.Pointers
		}
		if patch.Pins != nil {
			t.Pins = patch.Pins
		}
		if patch.Contract != nil {
			t.Contract = *patch.Contract
		}
		if patch.AllowedTests != nil {
			t.AllowedTests = patch.AllowedTests
		}
		if patch.ToolingRules != nil {
			t.ToolingRules = *patch.ToolingRules
		}
		if patch.Area != nil {
			t.Area = *patch.Area
		}
		if patch.TaskClass != nil {
			t.TaskClass = *patch.TaskClass
		}
		return nil
	})
}

// Delete removes a task; tasks are otherwise never deleted (spec §4.D).
func (b *Board) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(b.tasks, id)
	return b.persist()
}

// emit is a convenience wrapper; nil events writer is tolerated for tests.
func (b *Board) emit(e eventlog.Event) {
	if b.events == nil {
		return
	}
	if err := b.events.Append(e); err != nil && b.log != nil {
		b.log.Printf("event append failed: %v", err)
	}
}
