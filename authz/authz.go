// Package authz decides whether a user satisfies permission and scope
// requirements. Decisions are pure functions of the user record and the
// role tables fixed at construction.
package authz

import (
	"maps"
	"slices"

	"github.com/chimerakang/authkit"
)

var _ authkit.Authorizer = (*Checker)(nil)

// DefaultRoleScopes grants each built-in role its own scope plus "user";
// admins hold every built-in scope.
func DefaultRoleScopes() map[string][]string {
	return map[string][]string{
		authkit.RoleUser:     {"user"},
		authkit.RoleAnalyst:  {"user", "analyst"},
		authkit.RoleEngineer: {"user", "engineer"},
		authkit.RoleAdmin:    {"user", "admin", "analyst", "engineer"},
	}
}

// Checker implements authkit.Authorizer.
type Checker struct {
	rolePermissions map[string]map[string]struct{}
	roleScopes      map[string]map[string]struct{}
	scopeBypass     bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithRolePermissions grants permissions to every user holding a role, in
// addition to the user's own permissions.
func WithRolePermissions(m map[string][]string) Option {
	return func(c *Checker) { c.rolePermissions = toSets(m) }
}

// WithRoleScopes replaces the role to scope table.
func WithRoleScopes(m map[string][]string) Option {
	return func(c *Checker) { c.roleScopes = toSets(m) }
}

// WithSuperadminScopeBypass lets superadmins pass every scope check.
// Without it only permission checks are bypassed.
func WithSuperadminScopeBypass() Option {
	return func(c *Checker) { c.scopeBypass = true }
}

// NewChecker creates a Checker with DefaultRoleScopes and no role
// permissions.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		rolePermissions: map[string]map[string]struct{}{},
		roleScopes:      toSets(DefaultRoleScopes()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HasPermissions reports whether user holds every required permission.
// Superadmins always pass; an empty requirement always passes.
func (c *Checker) HasPermissions(user *authkit.User, required ...string) bool {
	if user == nil {
		return false
	}
	if user.IsSuperadmin() {
		return true
	}
	granted := c.rolePermissions[user.Role]
	for _, p := range required {
		if slices.Contains(user.Permissions, p) {
			continue
		}
		if _, ok := granted[p]; ok {
			continue
		}
		return false
	}
	return true
}

// HasScope reports whether user's role grants scope.
func (c *Checker) HasScope(user *authkit.User, scope string) bool {
	if user == nil {
		return false
	}
	if c.scopeBypass && user.IsSuperadmin() {
		return true
	}
	_, ok := c.roleScopes[user.Role][scope]
	return ok
}

// Permissions returns the sorted effective permissions of user: its own
// plus those granted to its role.
func (c *Checker) Permissions(user *authkit.User) []string {
	if user == nil {
		return nil
	}
	set := make(map[string]struct{}, len(user.Permissions))
	for _, p := range user.Permissions {
		set[p] = struct{}{}
	}
	maps.Copy(set, c.rolePermissions[user.Role])
	return slices.Sorted(maps.Keys(set))
}

// Scopes returns the sorted scopes granted to user's role.
func (c *Checker) Scopes(user *authkit.User) []string {
	if user == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.roleScopes[user.Role]))
}

func toSets(m map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(m))
	for role, items := range m {
		set := make(map[string]struct{}, len(items))
		for _, it := range items {
			set[it] = struct{}{}
		}
		out[role] = set
	}
	return out
}
