package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// AttributeAuthorizer evaluates one CEL expression per permission against the
// actor. Expressions see actor_id (int), roles (list of string), attrs (map of
// string to string) and permission (string) and must return a bool.
// Permissions without a rule are denied.
type AttributeAuthorizer struct {
	programs map[string]cel.Program
}

// NewAttributeAuthorizer compiles rules keyed by permission.
func NewAttributeAuthorizer(rules map[string]string) (*AttributeAuthorizer, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor_id", cel.IntType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("permission", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("rbac: cel env: %w", err)
	}
	programs := make(map[string]cel.Program, len(rules))
	for perm, expr := range rules {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rbac: compile rule for %s: %w", perm, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rbac: rule for %s must return bool, got %s", perm, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rbac: program for %s: %w", perm, err)
		}
		programs[strings.ToLower(strings.TrimSpace(perm))] = prg
	}
	return &AttributeAuthorizer{programs: programs}, nil
}

// Authorize implements shared.Authorizer.
func (a *AttributeAuthorizer) Authorize(ctx context.Context, actor shared.Actor, permission string) (bool, error) {
	permission = strings.ToLower(strings.TrimSpace(permission))
	prg, ok := a.programs[permission]
	if !ok {
		if prg, ok = a.programs[Wildcard]; !ok {
			return false, nil
		}
	}
	roles := actor.Roles
	if roles == nil {
		roles = []string{}
	}
	attrs := actor.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{
		"actor_id":   actor.ID,
		"roles":      roles,
		"attrs":      attrs,
		"permission": permission,
	})
	if err != nil {
		return false, fmt.Errorf("rbac: evaluate %s: %w", permission, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rbac: rule for %s returned %T", permission, out.Value())
	}
	return allowed, nil
}

// ParseRules reads "perm=expr;perm=expr" into a rule table. Expressions must not contain ';'.
func ParseRules(raw string) (map[string]string, error) {
	rules := map[string]string{}
	for _, entry := range splitEntries(raw) {
		perm, expr, ok := strings.Cut(entry, "=")
		perm, expr = strings.TrimSpace(perm), strings.TrimSpace(expr)
		if !ok || perm == "" || expr == "" {
			return nil, fmt.Errorf("rbac: malformed rule %q", entry)
		}
		rules[perm] = expr
	}
	return rules, nil
}
