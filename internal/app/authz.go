package app

import (
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// NewAuthorizer builds the authorizer selected by AUTHZ_MODE.
func NewAuthorizer(cfg *Config) (shared.Authorizer, error) {
	if cfg != nil && cfg.AuthzMode == AuthzModeAttribute {
		rules, err := rbac.ParseRules(cfg.AuthzRules)
		if err != nil {
			return nil, err
		}
		return rbac.NewAttributeAuthorizer(rules)
	}
	grants := rbac.DefaultRoleGrants()
	if cfg != nil && cfg.AuthzRoleGrants != "" {
		overrides, err := rbac.ParseGrants(cfg.AuthzRoleGrants)
		if err != nil {
			return nil, err
		}
		for role, perms := range overrides {
			grants[role] = perms
		}
	}
	return rbac.NewRoleAuthorizer(grants), nil
}
