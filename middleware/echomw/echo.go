// Package echomw provides Echo middleware backed by an *authkit.Guard.
package echomw

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chimerakang/authkit"
)

// KeyUser is the echo.Context key holding the resolved *authkit.User.
const KeyUser = "authkit_user"

// AuthOption configures authentication middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets request paths that skip authentication.
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

// Authenticate resolves the caller from a bearer token and responds with
// 401 when that fails.
func Authenticate(g *authkit.Guard, opts ...AuthOption) echo.MiddlewareFunc {
	cfg := newAuthConfig(opts)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.excludedPaths[c.Request().URL.Path] {
				return next(c)
			}
			user, err := g.CurrentUser(c.Request().Context(), bearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
			if err != nil {
				return respond(c, err)
			}
			setUser(c, user)
			return next(c)
		}
	}
}

// OptionalAuthenticate resolves a bearer token when present and always calls
// the next handler.
func OptionalAuthenticate(g *authkit.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lookup := g.OptionalUser(c.Request().Context(), bearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
			if user, ok := lookup.User(); ok {
				setUser(c, user)
			}
			return next(c)
		}
	}
}

// APIKey resolves the caller from the X-API-Key header.
func APIKey(g *authkit.Guard, opts ...AuthOption) echo.MiddlewareFunc {
	cfg := newAuthConfig(opts)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.excludedPaths[c.Request().URL.Path] {
				return next(c)
			}
			user, err := g.APIKeyUser(c.Request().Context(), c.Request().Header.Get("X-API-Key"))
			if err != nil {
				return respond(c, err)
			}
			setUser(c, user)
			return next(c)
		}
	}
}

// Authorize checks the authenticated user against req.
func Authorize(g *authkit.Guard, req authkit.Requirement) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := g.Authorize(c.Request().Context(), GetUser(c), req); err != nil {
				return respond(c, err)
			}
			return next(c)
		}
	}
}

// GetUser returns the authenticated user, or nil.
func GetUser(c echo.Context) *authkit.User {
	u, _ := c.Get(KeyUser).(*authkit.User)
	return u
}

func setUser(c echo.Context, u *authkit.User) {
	c.Set(KeyUser, u)
	c.SetRequest(c.Request().WithContext(authkit.WithUser(c.Request().Context(), u)))
}

func respond(c echo.Context, err error) error {
	status := authkit.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}
	return c.JSON(status, authkit.ErrorBody(err))
}

func bearerToken(auth string) string {
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
