package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Wildcard grants every permission.
const Wildcard = "*"

// RoleAuthorizer grants permissions through a static role table.
type RoleAuthorizer struct {
	grants map[string]map[string]struct{}
}

// NewRoleAuthorizer builds a RoleAuthorizer from role -> permissions.
func NewRoleAuthorizer(grants map[string][]string) *RoleAuthorizer {
	table := make(map[string]map[string]struct{}, len(grants))
	for role, perms := range grants {
		set := make(map[string]struct{}, len(perms))
		for _, p := range normalizePermissions(perms) {
			set[p] = struct{}{}
		}
		table[strings.ToLower(strings.TrimSpace(role))] = set
	}
	return &RoleAuthorizer{grants: table}
}

// DefaultRoleGrants is used when no role table is configured.
func DefaultRoleGrants() map[string][]string {
	return map[string][]string{
		"admin":      {Wildcard},
		"supervisor": {shared.PermStockView, shared.PermStockRecord, shared.PermStockAudit, shared.PermOpnameView, shared.PermOpnameManage, shared.PermOrdersReserve, shared.PermIngestRun},
		"warehouse":  {shared.PermStockView, shared.PermStockRecord, shared.PermOpnameView, shared.PermOpnameManage},
		"sales":      {shared.PermStockView, shared.PermOrdersReserve},
		"viewer":     {shared.PermStockView, shared.PermOpnameView},
	}
}

// Authorize implements shared.Authorizer.
func (a *RoleAuthorizer) Authorize(_ context.Context, actor shared.Actor, permission string) (bool, error) {
	permission = strings.ToLower(strings.TrimSpace(permission))
	for _, role := range actor.Roles {
		set, ok := a.grants[strings.ToLower(strings.TrimSpace(role))]
		if !ok {
			continue
		}
		if _, ok := set[Wildcard]; ok {
			return true, nil
		}
		if _, ok := set[permission]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Permissions lists what the actor's roles grant, sorted.
func (a *RoleAuthorizer) Permissions(actor shared.Actor) []string {
	seen := map[string]struct{}{}
	for _, role := range actor.Roles {
		for p := range a.grants[strings.ToLower(strings.TrimSpace(role))] {
			if p == Wildcard {
				return shared.StockScopes()
			}
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ParseGrants reads "role=perm,perm;role=*" into a role table.
func ParseGrants(raw string) (map[string][]string, error) {
	grants := map[string][]string{}
	for _, entry := range splitEntries(raw) {
		role, perms, ok := strings.Cut(entry, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("rbac: malformed grant %q", entry)
		}
		for _, p := range strings.Split(perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				grants[role] = append(grants[role], p)
			}
		}
	}
	return grants, nil
}

func splitEntries(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ";") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
