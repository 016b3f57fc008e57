package degrade

import (
	"context"
	"sync"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

// Engine bundles the breaker set, quarantine flag, fixup fuse, and
// degradation matrix into the single degradation subsystem described by
// spec §4.K. It satisfies internal/dispatch.QuarantineChecker structurally
// so the dispatch gate can consult it without an import cycle.
type Engine struct {
	Breakers   *BreakerSet
	Quarantine *Quarantine
	Fuse       *Fuse
	Matrix     *Matrix
	Events     *eventlog.Writer

	mu            sync.Mutex
	wipTightened  bool
	hooksDisabled bool
}

// NewEngine wires the four degradation components with their defaults.
func NewEngine(ctx context.Context, fuseThreshold int, events *eventlog.Writer) (*Engine, error) {
	matrix, err := NewMatrix(ctx, DefaultMatrixEntries())
	if err != nil {
		return nil, err
	}
	return &Engine{
		Breakers:   NewBreakerSet(DefaultBreakerConfig(), events),
		Quarantine: NewQuarantine(events),
		Fuse:       NewFuse(fuseThreshold, events),
		Matrix:     matrix,
		Events:     events,
	}, nil
}

// Blocked implements dispatch.QuarantineChecker.
func (e *Engine) Blocked(role taskboard.Role, taskClass string) bool {
	return e.Quarantine.Blocked(role, taskClass)
}

// DefaultMatrixEntries is the default degradation matrix (spec §4.K
// examples: queue_overload, breaker_open).
func DefaultMatrixEntries() []Entry {
	return []Entry{
		{
			Name:     "breaker_open_quarantine",
			Severity: 100,
			Requires: []string{"breaker_open", "queue_overload"},
			Actions:  Actions{RaiseQuarantine: true, TightenWIPCaps: true},
		},
		{
			Name:     "queue_overload_tighten",
			Severity: 50,
			Requires: []string{"queue_overload"},
			Excludes: []string{"breaker_open"},
			Actions:  Actions{TightenWIPCaps: true},
		},
		{
			Name:     "quality_blocked_disable_hooks",
			Severity: 30,
			Requires: []string{"quality_blocked"},
			Actions:  Actions{DisableHooks: true},
		},
	}
}

// Evaluate runs the matrix against the current signal snapshot, applies the
// matching entry's actions (quarantine, WIP-cap tightening, hook
// suspension), and records the non-quarantine actions' current state for
// WIPCapsTightened/HooksDisabled to report back to the caller that applies
// them (spec §4.K "Actions may (a) tighten WIP caps, (b) disable feedback
// hooks, (c) raise quarantine").
func (e *Engine) Evaluate(ctx context.Context, signals Signals) (Entry, bool, error) {
	entry, matched, err := e.Matrix.Evaluate(ctx, signals)
	if err != nil {
		return entry, matched, err
	}
	if matched && entry.Actions.RaiseQuarantine {
		e.Quarantine.Enter()
	}
	e.mu.Lock()
	e.wipTightened = matched && entry.Actions.TightenWIPCaps
	e.hooksDisabled = matched && entry.Actions.DisableHooks
	e.mu.Unlock()
	return entry, matched, nil
}

// WIPCapsTightened reports whether the most recent Evaluate matched an
// entry whose actions tighten WIP caps.
func (e *Engine) WIPCapsTightened() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wipTightened
}

// HooksDisabled reports whether the most recent Evaluate matched an entry
// whose actions disable feedback hooks (the fixup recovery loops).
func (e *Engine) HooksDisabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hooksDisabled
}
