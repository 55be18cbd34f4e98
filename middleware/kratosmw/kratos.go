// Package kratosmw provides Kratos framework middleware backed by an
// *authkit.Guard. It works with both Kratos HTTP and gRPC transports.
package kratosmw

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"

	"github.com/chimerakang/authkit"
)

// AuthOption configures Auth middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedOperations map[string]bool
}

// WithExcludedOperations sets operations that skip authentication (e.g. health checks).
// Operations are matched by transport.Operation() (gRPC method or HTTP route pattern).
func WithExcludedOperations(ops ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, op := range ops {
			cfg.excludedOperations[op] = true
		}
	}
}

func newAuthConfig(opts []AuthOption) *authConfig {
	cfg := &authConfig{excludedOperations: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// credential extracts one credential from the request headers.
type credential func(transport.Header) string

func bearer(h transport.Header) string { return extractBearerToken(h.Get("Authorization")) }

func apiKey(h transport.Header) string { return h.Get("X-API-Key") }

// Auth returns middleware that resolves the caller from a bearer token.
// Returns errors.Unauthorized if the token is missing or invalid.
func Auth(g *authkit.Guard, opts ...AuthOption) middleware.Middleware {
	return required(g.CurrentUser, bearer, newAuthConfig(opts))
}

// APIKey returns middleware that resolves the caller from the X-API-Key
// header.
func APIKey(g *authkit.Guard, opts ...AuthOption) middleware.Middleware {
	return required(g.APIKeyUser, apiKey, newAuthConfig(opts))
}

func required(resolve func(context.Context, string) (*authkit.User, error), cred credential, cfg *authConfig) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return nil, errors.Unauthorized("UNAUTHORIZED", "not authenticated")
			}
			if cfg.excludedOperations[tr.Operation()] {
				return handler(ctx, req)
			}

			user, err := resolve(ctx, cred(tr.RequestHeader()))
			if err != nil {
				return nil, toKratos(err)
			}
			return handler(authkit.WithUser(ctx, user), req)
		}
	}
}

// OptionalAuth resolves a bearer token when present. It never rejects a
// request.
func OptionalAuth(g *authkit.Guard) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return handler(ctx, req)
			}
			if user, found := g.OptionalUser(ctx, bearer(tr.RequestHeader())).User(); found {
				ctx = authkit.WithUser(ctx, user)
			}
			return handler(ctx, req)
		}
	}
}

// Authorize checks the user stored by Auth or APIKey against req.
// Returns errors.Forbidden with the unmet requirement in the metadata.
func Authorize(g *authkit.Guard, req authkit.Requirement) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, r any) (any, error) {
			if err := g.Authorize(ctx, authkit.UserFromContext(ctx), req); err != nil {
				return nil, toKratos(err)
			}
			return handler(ctx, r)
		}
	}
}

// --- internal helpers ---

func toKratos(err error) *errors.Error {
	var (
		authnErr *authkit.AuthenticationError
		authzErr *authkit.AuthorizationError
	)
	switch {
	case stderrors.As(err, &authnErr):
		return errors.Unauthorized("UNAUTHORIZED", authnErr.Reason)
	case stderrors.As(err, &authzErr):
		md := map[string]string{}
		if len(authzErr.RequiredPermissions) > 0 {
			md["required_permissions"] = strings.Join(authzErr.RequiredPermissions, ",")
		}
		if authzErr.RequiredScope != "" {
			md["required_scope"] = authzErr.RequiredScope
		}
		return errors.Forbidden("FORBIDDEN", authzErr.Reason).WithMetadata(md)
	}
	return errors.InternalServer("INTERNAL", "internal server error")
}

func extractBearerToken(auth string) string {
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
