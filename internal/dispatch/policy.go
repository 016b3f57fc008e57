// Package dispatch implements the preflight & dispatch gate (spec §4.H):
// an ordered sequence of checks that must all pass before a task becomes a
// job. Role-path policy and the degradation matrix (see internal/degrade)
// are expressed declaratively via embedded Rego modules (OPA), replacing
// what would otherwise be an ad hoc if/else chain, per SPEC_FULL's domain
// stack section.
package dispatch

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/kilroy-labs/factoryctl/internal/taskboard"
)

const rolePolicyModule = `
package rolepolicy

default allow = false

allow {
	role_entry := data.roles[input.role]
	role_entry.unrestricted == true
}

allow {
	role_entry := data.roles[input.role]
	role_entry.unrestricted == false
	count(disallowed_paths) == 0
}

disallowed_paths[path] {
	some path
	path := input.paths[_]
	role_entry := data.roles[input.role]
	not path_allowed(role_entry.allowed_prefixes, path)
}

path_allowed(prefixes, path) {
	some i
	startswith(path, prefixes[i])
}
`

// RoleRule is a plain struct of allowed-path prefixes for one role (spec
// §9: "A RoleRules lookup yields a plain struct of allowed paths/tests/etc;
// there is no runtime subclassing").
type RoleRule struct {
	Unrestricted    bool
	AllowedPrefixes []string
}

// RolePolicy evaluates role/path access via an embedded Rego module instead
// of a hand-written if/else chain.
type RolePolicy struct {
	query rego.PreparedEvalQuery
}

// NewRolePolicy compiles the role policy module against the given role
// rule table.
func NewRolePolicy(ctx context.Context, roles map[taskboard.Role]RoleRule) (*RolePolicy, error) {
	data := map[string]any{"roles": map[string]any{}}
	rolesData := data["roles"].(map[string]any)
	for role, rule := range roles {
		rolesData[string(role)] = map[string]any{
			"unrestricted":     rule.Unrestricted,
			"allowed_prefixes": rule.AllowedPrefixes,
		}
	}
	store := inmem.NewFromObject(data)

	query, err := rego.New(
		rego.Query("data.rolepolicy.allow"),
		rego.Module("rolepolicy.rego", rolePolicyModule),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare role policy: %w", err)
	}
	return &RolePolicy{query: query}, nil
}

// Allowed reports whether role may touch paths.
func (p *RolePolicy) Allowed(ctx context.Context, role taskboard.Role, paths []string) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"role":  string(role),
		"paths": paths,
	}))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}
