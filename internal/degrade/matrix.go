package degrade

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
)

// matrixModule evaluates, for every declared entry, whether all of its
// "requires" signals are true and none of its "excludes" signals are true
// (spec §4.K "when is a boolean expression over signals"). This lets the
// matrix stay pure declarative data (Entries below) while the boolean
// evaluation itself runs through OPA rather than a hand-rolled if/else
// chain, matching the role-policy pattern in internal/dispatch/policy.go.
const matrixModule = `
package degradematrix

matched[i] {
	entry := data.entries[i]
	every_required_true(entry.requires)
	no_excluded_true(entry.excludes)
}

every_required_true(names) {
	count({n | n := names[_]; object.get(input.signals, n, false) != true}) == 0
}

no_excluded_true(names) {
	count({n | n := names[_]; input.signals[n] == true}) == 0
}
`

// Actions is the effect bundle a matrix entry applies when matched (spec
// §4.K "tighten WIP caps... disable feedback hooks... raise quarantine").
type Actions struct {
	TightenWIPCaps  bool
	DisableHooks    bool
	RaiseQuarantine bool
}

// Entry is one row of the degradation matrix (spec §4.K "declarative list
// of {when, actions}").
type Entry struct {
	Name     string
	Severity int
	Requires []string
	Excludes []string
	Actions  Actions
}

// Matrix holds the ordered, declared entries and an OPA query compiled
// against them.
type Matrix struct {
	entries []Entry
	query   rego.PreparedEvalQuery
}

// NewMatrix compiles the matrix module against entries. Order in entries is
// the declared order used for tie-breaking equal severities.
func NewMatrix(ctx context.Context, entries []Entry) (*Matrix, error) {
	data := map[string]any{"entries": entriesToData(entries)}
	store := inmem.NewFromObject(data)
	query, err := rego.New(
		rego.Query("data.degradematrix.matched"),
		rego.Module("degradematrix.rego", matrixModule),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare degradation matrix: %w", err)
	}
	return &Matrix{entries: entries, query: query}, nil
}

func entriesToData(entries []Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"requires": toAnySlice(e.Requires),
			"excludes": toAnySlice(e.Excludes),
		}
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Signals is the current boolean-signal snapshot (queue_overload,
// breaker_open, quarantine_active, fuse_tripped, quality_blocked, ...).
type Signals map[string]bool

// Evaluate returns the most severe matching entry, ties broken by declared
// order (spec §4.K "The engine picks the most severe matching entry; ties
// broken by declared order"). Returns ok=false if nothing matched.
func (m *Matrix) Evaluate(ctx context.Context, signals Signals) (Entry, bool, error) {
	input := map[string]any{"signals": signalsToAny(signals)}
	rs, err := m.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Entry{}, false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Entry{}, false, nil
	}
	matchedSet, _ := rs[0].Expressions[0].Value.([]any)
	if len(matchedSet) == 0 {
		return Entry{}, false, nil
	}
	indices := make([]int, 0, len(matchedSet))
	for _, v := range matchedSet {
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				indices = append(indices, int(i))
			}
		case float64:
			indices = append(indices, int(n))
		}
	}
	if len(indices) == 0 {
		return Entry{}, false, nil
	}
	sort.Slice(indices, func(i, j int) bool {
		a, b := m.entries[indices[i]], m.entries[indices[j]]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		return indices[i] < indices[j]
	})
	return m.entries[indices[0]], true, nil
}

func signalsToAny(signals Signals) map[string]any {
	out := make(map[string]any, len(signals))
	for k, v := range signals {
		out[k] = v
	}
	return out
}
