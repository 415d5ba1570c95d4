package auth

import (
	"fmt"
	"strings"
)

// Params are the request parameters a guard may inspect (path values, query).
type Params map[string]string

// Get returns the trimmed value for name.
func (p Params) Get(name string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[name])
}

// Guard is a predicate over a resolved principal. It returns nil to pass or an
// *Error describing the denial.
type Guard func(p Principal, params Params) error

// Guards builds guards against an injected role table.
type Guards struct {
	roles *RoleTable
}

// NewGuards returns a guard factory bound to roles.
func NewGuards(roles *RoleTable) *Guards {
	return &Guards{roles: roles}
}

// Check runs guards in order and returns the first failure. Inactive
// principals are always denied.
func Check(p Principal, params Params, guards ...Guard) error {
	if !p.Active {
		return Fail(CodeAccountInactive, nil)
	}
	for _, g := range guards {
		if err := g(p, params); err != nil {
			return err
		}
	}
	return nil
}

// RequireRole passes when the principal's role is at least as senior as any of roles.
func (g *Guards) RequireRole(roles ...Role) Guard {
	required := append([]Role(nil), roles...)
	return func(p Principal, _ Params) error {
		for _, r := range required {
			if g.roles.Known(r) && g.roles.HasEqualOrHigherRole(p.Role, r) {
				return nil
			}
		}
		return Fail(CodeInsufficientPermissions, fmt.Errorf("role %s below %v", p.Role, required))
	}
}

// RequirePermission passes when every permission is held explicitly or
// implied by the principal's role. The top-rank role always passes.
func (g *Guards) RequirePermission(perms ...Permission) Guard {
	required := append([]Permission(nil), perms...)
	return func(p Principal, _ Params) error {
		if g.roles.IsTopRank(p.Role) {
			return nil
		}
		for _, perm := range required {
			if !g.Allowed(p, perm) {
				return Fail(CodeInsufficientPermissions, fmt.Errorf("missing permission %s", perm))
			}
		}
		return nil
	}
}

// RequireRegionalAccess passes when the region named by param is within the
// principal's scope. Top-rank roles bypass the scope check.
func (g *Guards) RequireRegionalAccess(param string) Guard {
	return func(p Principal, params Params) error {
		region := params.Get(param)
		if region == "" {
			return Fail(CodeRegionRequired, fmt.Errorf("parameter %q is required", param))
		}
		if g.roles.IsTopRank(p.Role) {
			return nil
		}
		if !p.InRegion(region) {
			return Fail(CodeRegionAccessDenied, fmt.Errorf("region %s outside scope", region))
		}
		return nil
	}
}

// RequireMFACompleted passes only for principals with MFA enabled.
func (g *Guards) RequireMFACompleted() Guard {
	return func(p Principal, _ Params) error {
		if !p.MFAEnabled {
			return Fail(CodeMFANotEnabled, nil)
		}
		return nil
	}
}

// Allowed reports whether p holds perm directly or through its role.
func (g *Guards) Allowed(p Principal, perm Permission) bool {
	if p.HasExplicitPermission(perm) {
		return true
	}
	return g.roles.RoleImplies(p.Role, perm)
}
