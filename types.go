package authkit

import (
	"slices"
	"time"
)

// Built-in role names. Deployments may define additional roles; only
// RoleSuperadmin carries special meaning.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleAnalyst    = "analyst"
	RoleEngineer   = "engineer"
	RoleSuperadmin = "superadmin"
)

// TokenTypeAccess is the value of the "type" claim on every issued token.
const TokenTypeAccess = "access"

// User is the canonical identity record returned by a UserRepository.
type User struct {
	ID           string
	Username     string
	Email        string
	Role         string
	Permissions  []string
	Active       bool
	Superuser    bool
	PasswordHash string `json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPermission reports whether p is one of the user-level permissions.
// Role grants are not consulted; see authz.Checker for the effective set.
func (u *User) HasPermission(p string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Permissions, p)
}

// IsSuperadmin reports whether the user holds the superadmin role.
func (u *User) IsSuperadmin() bool {
	return u != nil && u.Role == RoleSuperadmin
}

// TokenClaims is the verified payload of an access token.
type TokenClaims struct {
	Subject   string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Custom holds every claim other than sub, iat, exp and type.
	Custom map[string]any
}

// Token is the response body of a successful login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Requirement describes what a route demands from the resolved identity.
// The zero value only requires an authenticated user.
type Requirement struct {
	// Permissions must all be held by the user.
	Permissions []string
	// Scope, when set, must be granted to the user's role.
	Scope string
	// Superuser restricts the route to users flagged as superusers.
	Superuser bool
}

// Lookup is the outcome of an optional identity resolution. It never carries
// an error to the caller's control flow; Reason only explains a miss.
type Lookup struct {
	user   *User
	reason error
}

// Found returns a Lookup holding u.
func Found(u *User) Lookup { return Lookup{user: u} }

// NotFound returns an empty Lookup. reason may be nil.
func NotFound(reason error) Lookup { return Lookup{reason: reason} }

// User returns the resolved user and whether one was found.
func (l Lookup) User() (*User, bool) { return l.user, l.user != nil }

// Reason explains why no user was resolved.
func (l Lookup) Reason() error { return l.reason }
