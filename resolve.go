package authkit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chimerakang/authkit/audit"
)

// Credential methods, used as metric labels and audit fields.
const (
	MethodBearer = "bearer"
	MethodAPIKey = "api_key"
)

// Client-facing messages for rejected credentials.
const (
	msgBadToken  = "could not validate credentials"
	msgBadAPIKey = "could not validate API key"
)

// failure is a rejected resolution: a metric label, a client-safe message
// and the internal cause.
type failure struct {
	code    string
	message string
	err     error
}

func fail(code, message string, err error) *failure {
	return &failure{code: code, message: message, err: err}
}

// CurrentUser resolves the user named by a bearer token. Every failure is an
// *AuthenticationError.
func (g *Guard) CurrentUser(ctx context.Context, token string) (*User, error) {
	u, f := g.resolve(ctx, MethodBearer, false, token, g.lookupBearer)
	if f != nil {
		return nil, unauthenticated(f.message, f.err)
	}
	return u, nil
}

// OptionalUser is CurrentUser for routes that also serve anonymous callers.
// It never fails; misses are reported through the Lookup.
func (g *Guard) OptionalUser(ctx context.Context, token string) Lookup {
	u, f := g.resolve(ctx, MethodBearer, true, token, g.lookupBearer)
	if f != nil {
		return NotFound(f.err)
	}
	return Found(u)
}

// APIKeyUser resolves the user owning an API key. Every failure is an
// *AuthenticationError.
func (g *Guard) APIKeyUser(ctx context.Context, key string) (*User, error) {
	u, f := g.resolve(ctx, MethodAPIKey, false, key, g.lookupAPIKey)
	if f != nil {
		return nil, unauthenticated(f.message, f.err)
	}
	return u, nil
}

// OptionalAPIKeyUser is APIKeyUser without failure.
func (g *Guard) OptionalAPIKeyUser(ctx context.Context, key string) Lookup {
	u, f := g.resolve(ctx, MethodAPIKey, true, key, g.lookupAPIKey)
	if f != nil {
		return NotFound(f.err)
	}
	return Found(u)
}

type lookupFunc func(ctx context.Context, credential string) (*User, string, *failure)

func (g *Guard) resolve(ctx context.Context, method string, optional bool, credential string, lookup lookupFunc) (*User, *failure) {
	ctx, span := g.tracer.Start(ctx, "authkit.resolve", trace.WithAttributes(
		attribute.String("authkit.method", method),
		attribute.Bool("authkit.optional", optional),
	))
	defer span.End()

	mode := "required"
	if optional {
		mode = "optional"
	}

	var (
		u        *User
		username string
		f        *failure
	)
	if credential == "" {
		f = fail("missing_credentials", "not authenticated", ErrNotAuthenticated)
	} else {
		u, username, f = lookup(ctx, credential)
	}

	if f != nil {
		g.metrics.RecordResolutionFailure(method, mode, f.code)
		span.SetStatus(codes.Error, f.code)
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("reason", f.code),
			zap.String("username", username),
			zap.Error(f.err),
		}
		if optional {
			g.logger.Debug("optional identity not resolved", fields...)
		} else {
			g.logger.Info("identity resolution failed", fields...)
		}
		// Absent credentials on optional routes are the normal anonymous case.
		if !(optional && f.code == "missing_credentials") {
			g.audit.LogContext(ctx, audit.Event{
				Action:   audit.ActionResolve,
				Method:   method,
				Optional: optional,
				Username: username,
				Result:   audit.ResultFailure,
				Reason:   f.code,
			})
		}
		return nil, f
	}

	g.metrics.RecordResolution(method, mode)
	span.SetAttributes(attribute.String("authkit.user", u.Username))
	g.audit.LogContext(ctx, audit.Event{
		Action:   audit.ActionResolve,
		Method:   method,
		Optional: optional,
		Username: u.Username,
		Result:   audit.ResultSuccess,
	})
	return u, nil
}

func (g *Guard) lookupBearer(ctx context.Context, token string) (*User, string, *failure) {
	claims, err := g.codec.Decode(token)
	if err != nil {
		return nil, "", fail("invalid_token", msgBadToken, err)
	}
	if claims.Type != TokenTypeAccess {
		return nil, claims.Subject, fail("invalid_token", msgBadToken,
			fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type))
	}

	u, err := g.users.GetByUsername(ctx, claims.Subject)
	if f := lookupFailure(ctx, u, err, msgBadToken); f != nil {
		return nil, claims.Subject, f
	}
	return u, u.Username, nil
}

func (g *Guard) lookupAPIKey(ctx context.Context, key string) (*User, string, *failure) {
	u, err := g.users.GetByAPIKey(ctx, key)
	if f := lookupFailure(ctx, u, err, msgBadAPIKey); f != nil {
		if u != nil {
			return nil, u.Username, f
		}
		return nil, "", f
	}
	return u, u.Username, nil
}

// lookupFailure keeps one client message per method so callers cannot tell
// unknown, disabled and unreachable accounts apart. The cause stays in err.
func lookupFailure(ctx context.Context, u *User, err error, message string) *failure {
	switch {
	case errors.Is(err, ErrUserNotFound), err == nil && u == nil:
		return fail("user_not_found", message, ErrUserNotFound)
	case ctx.Err() != nil:
		return fail("canceled", message, ctx.Err())
	case err != nil:
		return fail("lookup_error", message, fmt.Errorf("authkit: lookup user: %w", err))
	case !u.Active:
		return fail("inactive", message, ErrUserInactive)
	}
	return nil
}

// Authorize checks that user satisfies req. A nil user yields an
// *AuthenticationError; an unmet requirement yields an *AuthorizationError.
func (g *Guard) Authorize(ctx context.Context, user *User, req Requirement) error {
	start := time.Now()
	kind, err := g.authorize(user, req)
	g.metrics.RecordDecision(kind, err == nil, time.Since(start).Seconds())

	ev := audit.Event{
		Action:   audit.ActionAuthorize,
		Required: req.Permissions,
		Scope:    req.Scope,
		Result:   audit.ResultSuccess,
	}
	if user != nil {
		ev.Username = user.Username
	}
	if err != nil {
		ev.Result = audit.ResultDenied
		ev.Reason = kind
		g.logger.Info("authorization denied",
			zap.String("username", ev.Username),
			zap.String("kind", kind),
			zap.Strings("required", req.Permissions),
			zap.String("scope", req.Scope),
		)
	}
	g.audit.LogContext(ctx, ev)
	return err
}

func (g *Guard) authorize(user *User, req Requirement) (string, error) {
	if user == nil {
		return "authenticated", unauthenticated("not authenticated", ErrNotAuthenticated)
	}
	if req.Superuser && !user.Superuser {
		return "superuser", &AuthorizationError{Reason: "not enough privileges"}
	}
	if len(req.Permissions) > 0 && !g.authz.HasPermissions(user, req.Permissions...) {
		return "permission", &AuthorizationError{
			Reason:              "insufficient permissions",
			RequiredPermissions: slices.Clone(req.Permissions),
		}
	}
	if req.Scope != "" && !g.authz.HasScope(user, req.Scope) {
		return "scope", &AuthorizationError{Reason: "insufficient scope", RequiredScope: req.Scope}
	}

	switch {
	case req.Scope != "":
		return "scope", nil
	case len(req.Permissions) > 0:
		return "permission", nil
	case req.Superuser:
		return "superuser", nil
	}
	return "authenticated", nil
}
