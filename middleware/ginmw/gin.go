// Package ginmw provides Gin HTTP middleware backed by an *authkit.Guard.
//
// Authentication middleware stores the resolved *authkit.User both in the
// gin.Context (see GetUser) and in the request context (see
// authkit.UserFromContext), so handlers and downstream libraries can read it.
package ginmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chimerakang/authkit"
)

// KeyUser is the gin.Context key holding the resolved *authkit.User.
const KeyUser = "authkit_user"

// HeaderAPIKey carries API key credentials.
const HeaderAPIKey = "X-API-Key"

// AuthOption configures authentication middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip authentication (e.g. health checks).
func WithExcludedPaths(paths ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

func newAuthConfig(opts []AuthOption) *authConfig {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// Authenticate returns middleware that resolves the caller from a bearer
// token. Responds with 401 if the token is missing or invalid.
func Authenticate(g *authkit.Guard, opts ...AuthOption) gin.HandlerFunc {
	cfg := newAuthConfig(opts)
	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		user, err := g.CurrentUser(c.Request.Context(), extractBearerToken(c.Request))
		if err != nil {
			abort(c, err)
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// OptionalAuthenticate resolves a bearer token when one is presented. The
// request always proceeds; GetUser returns nil for anonymous callers.
func OptionalAuthenticate(g *authkit.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := g.OptionalUser(c.Request.Context(), extractBearerToken(c.Request)).User(); ok {
			setUser(c, user)
		}
		c.Next()
	}
}

// APIKey returns middleware that resolves the caller from the X-API-Key
// header. Responds with 401 if the key is missing or unknown.
func APIKey(g *authkit.Guard, opts ...AuthOption) gin.HandlerFunc {
	cfg := newAuthConfig(opts)
	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		user, err := g.APIKeyUser(c.Request.Context(), c.GetHeader(HeaderAPIKey))
		if err != nil {
			abort(c, err)
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// OptionalAPIKey resolves an API key when one is presented and never rejects
// the request.
func OptionalAPIKey(g *authkit.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := g.OptionalAPIKeyUser(c.Request.Context(), c.GetHeader(HeaderAPIKey)).User(); ok {
			setUser(c, user)
		}
		c.Next()
	}
}

// Authorize returns middleware that checks the authenticated user against
// req. It must run after Authenticate or APIKey. Responds with 401 when no
// user is present and 403 when the requirement is not met.
func Authorize(g *authkit.Guard, req authkit.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := g.Authorize(c.Request.Context(), GetUser(c), req); err != nil {
			abort(c, err)
			return
		}
		c.Next()
	}
}

// RequirePermissions requires every listed permission.
func RequirePermissions(g *authkit.Guard, permissions ...string) gin.HandlerFunc {
	return Authorize(g, authkit.Requirement{Permissions: permissions})
}

// RequireScope requires scope to be granted to the user's role.
func RequireScope(g *authkit.Guard, scope string) gin.HandlerFunc {
	return Authorize(g, authkit.Requirement{Scope: scope})
}

// RequireSuperuser restricts the route to superusers.
func RequireSuperuser(g *authkit.Guard) gin.HandlerFunc {
	return Authorize(g, authkit.Requirement{Superuser: true})
}

// GetUser returns the authenticated user from the Gin context, or nil.
func GetUser(c *gin.Context) *authkit.User {
	v, _ := c.Get(KeyUser)
	u, _ := v.(*authkit.User)
	return u
}

// --- internal helpers ---

func setUser(c *gin.Context, u *authkit.User) {
	c.Set(KeyUser, u)
	c.Request = c.Request.WithContext(authkit.WithUser(c.Request.Context(), u))
}

func abort(c *gin.Context, err error) {
	status := authkit.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.AbortWithStatusJSON(status, authkit.ErrorBody(err))
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
