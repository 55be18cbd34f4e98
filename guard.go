// Package authkit provides authentication and authorization glue for web APIs.
//
// A Guard composes a TokenCodec, a UserRepository, an Authorizer and an
// optional PasswordHasher. Concrete implementations live in sub-packages and
// are injected via Option functions; framework adapters in middleware/ take
// the Guard as their only dependency.
//
//	codec, _ := token.NewCodec(token.Config{SecretKey: secret})
//	guard, err := authkit.NewGuard(
//	    authkit.Config{AccessTokenTTL: 30 * time.Minute},
//	    authkit.WithTokenCodec(codec),
//	    authkit.WithUserRepository(postgres.NewUserRepository(db)),
//	    authkit.WithAuthorizer(authz.NewChecker()),
//	    authkit.WithPasswordHasher(password.NewBcryptHasher()),
//	)
package authkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chimerakang/authkit/audit"
	"github.com/chimerakang/authkit/metrics"
)

const tracerName = "github.com/chimerakang/authkit"

// DefaultAccessTokenTTL is the lifetime of tokens issued by Login when
// Config.AccessTokenTTL is zero.
const DefaultAccessTokenTTL = 30 * time.Minute

// Guard resolves identities and enforces requirements. It is safe for
// concurrent use; all state except the lazily hashed dummy digest is fixed
// at construction.
type Guard struct {
	config  Config
	logger  *zap.Logger
	codec   TokenCodec
	users   UserRepository
	authz   Authorizer
	hasher  PasswordHasher
	metrics *metrics.Metrics
	audit   *audit.Logger
	tracer  trace.Tracer

	dummyOnce   sync.Once
	dummyDigest string
}

// Config holds Guard behavior.
type Config struct {
	// AccessTokenTTL is the lifetime of tokens issued by Login and by
	// IssueToken when no ttl is given. Default: 30 minutes.
	AccessTokenTTL time.Duration
}

// Option configures the Guard.
type Option func(*Guard)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithTokenCodec sets the token implementation.
func WithTokenCodec(c TokenCodec) Option {
	return func(g *Guard) { g.codec = c }
}

// WithUserRepository sets the user lookup implementation.
func WithUserRepository(r UserRepository) Option {
	return func(g *Guard) { g.users = r }
}

// WithAuthorizer sets the permission and scope checker.
func WithAuthorizer(a Authorizer) Option {
	return func(g *Guard) { g.authz = a }
}

// WithPasswordHasher sets the password implementation used by Login.
func WithPasswordHasher(h PasswordHasher) Option {
	return func(g *Guard) { g.hasher = h }
}

// WithMetrics sets the Prometheus recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithAuditLogger sets the audit sink. The Guard closes it on Close.
func WithAuditLogger(a *audit.Logger) Option {
	return func(g *Guard) { g.audit = a }
}

// WithTracerProvider sets the OpenTelemetry provider used for resolution
// spans. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Guard) { g.tracer = tp.Tracer(tracerName) }
}

// NewGuard creates a Guard. A token codec, a user repository and an
// authorizer are required.
func NewGuard(cfg Config, opts ...Option) (*Guard, error) {
	if cfg.AccessTokenTTL < 0 {
		return nil, fmt.Errorf("authkit: negative access token ttl %v", cfg.AccessTokenTTL)
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}

	g := &Guard{config: cfg}
	for _, o := range opts {
		o(g)
	}

	switch {
	case g.codec == nil:
		return nil, errors.New("authkit: token codec is required")
	case g.users == nil:
		return nil, errors.New("authkit: user repository is required")
	case g.authz == nil:
		return nil, errors.New("authkit: authorizer is required")
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	return g, nil
}

// Config returns the guard configuration.
func (g *Guard) Config() Config { return g.config }

// Codec returns the token codec.
func (g *Guard) Codec() TokenCodec { return g.codec }

// Users returns the user repository.
func (g *Guard) Users() UserRepository { return g.users }

// Authz returns the authorizer.
func (g *Guard) Authz() Authorizer { return g.authz }

// Logger returns the guard's logger.
func (g *Guard) Logger() *zap.Logger { return g.logger }

// HashPassword hashes plain with the configured hasher.
func (g *Guard) HashPassword(plain string) (string, error) {
	if g.hasher == nil {
		return "", errors.New("authkit: password hasher not configured")
	}
	return g.hasher.Hash(plain)
}

// VerifyPassword reports whether plain matches digest. Without a hasher it
// always reports false.
func (g *Guard) VerifyPassword(plain, digest string) bool {
	if g.hasher == nil {
		return false
	}
	ok := g.hasher.Verify(plain, digest)
	g.metrics.RecordPasswordCheck(ok)
	return ok
}

// IssueToken signs claims as an access token. A ttl <= 0 uses
// Config.AccessTokenTTL. Failures are *TokenCreationError. Every attempt is
// audited under the "sub" claim.
func (g *Guard) IssueToken(claims map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = g.config.AccessTokenTTL
	}
	tok, err := g.codec.Issue(claims, ttl)
	g.metrics.RecordTokenIssued(err == nil)
	subject, _ := claims["sub"].(string)
	if err != nil {
		var tce *TokenCreationError
		if !errors.As(err, &tce) {
			err = &TokenCreationError{Err: err}
		}
		g.logger.Error("token issuance failed", zap.Error(err))
		g.audit.Log(audit.Event{
			Action:   audit.ActionIssue,
			Username: subject,
			Result:   audit.ResultFailure,
			Error:    err.Error(),
		})
		return "", err
	}
	g.audit.Log(audit.Event{
		Action:   audit.ActionIssue,
		Username: subject,
		Result:   audit.ResultSuccess,
	})
	return tok, nil
}

// Login checks a username and password and issues an access token carrying
// the user's role and permissions. Unknown users, inactive users and wrong
// passwords produce the same *AuthenticationError.
func (g *Guard) Login(ctx context.Context, username, plain string) (*Token, error) {
	if g.hasher == nil {
		return nil, errors.New("authkit: password hasher not configured")
	}

	u, err := g.checkLogin(ctx, username, plain)
	if err != nil {
		g.metrics.RecordLogin(false)
		var authnErr *AuthenticationError
		if errors.As(err, &authnErr) {
			g.logger.Info("login rejected", zap.String("username", username), zap.Error(authnErr.Err))
			g.audit.LogContext(ctx, audit.Event{
				Action:   audit.ActionLogin,
				Method:   "password",
				Username: username,
				Result:   audit.ResultFailure,
				Reason:   authnErr.Err.Error(),
			})
		}
		return nil, err
	}

	claims := map[string]any{
		"sub":         u.Username,
		"role":        u.Role,
		"permissions": slices.Clone(u.Permissions),
	}
	tok, err := g.IssueToken(claims, g.config.AccessTokenTTL)
	if err != nil {
		g.metrics.RecordLogin(false)
		return nil, err
	}

	g.metrics.RecordLogin(true)
	g.audit.LogContext(ctx, audit.Event{
		Action:   audit.ActionLogin,
		Method:   "password",
		Username: u.Username,
		Result:   audit.ResultSuccess,
	})
	return &Token{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   int(g.config.AccessTokenTTL.Seconds()),
	}, nil
}

// checkLogin returns an *AuthenticationError for a rejected login and a
// plain error for repository faults.
func (g *Guard) checkLogin(ctx context.Context, username, plain string) (*User, error) {
	reject := func(cause error) (*User, error) {
		return nil, unauthenticated(ErrInvalidCredentials.Error(), cause)
	}
	// Rejections that skip the real comparison still pay for one, so
	// response time does not reveal which usernames exist.
	burn := func(cause error) (*User, error) {
		g.hasher.Verify(plain, g.dummy())
		return reject(cause)
	}
	if username == "" {
		return burn(ErrUserNotFound)
	}
	u, err := g.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound), err == nil && u == nil:
		return burn(ErrUserNotFound)
	case err != nil:
		return nil, fmt.Errorf("authkit: lookup user: %w", err)
	case !u.Active:
		return burn(ErrUserInactive)
	case !g.VerifyPassword(plain, u.PasswordHash):
		return reject(ErrInvalidCredentials)
	}
	return u, nil
}

// dummy returns a digest made by the configured hasher, so comparing against
// it costs the same as comparing against a stored password.
func (g *Guard) dummy() string {
	g.dummyOnce.Do(func() {
		d, err := g.hasher.Hash("authkit-login-placeholder")
		if err != nil {
			g.logger.Warn("dummy digest unavailable", zap.Error(err))
			return
		}
		g.dummyDigest = d
	})
	return g.dummyDigest
}

// CheckPermissions reports whether user holds every required permission.
func (g *Guard) CheckPermissions(user *User, required ...string) bool {
	return g.authz.HasPermissions(user, required...)
}

// CheckScope reports whether user's role grants scope.
func (g *Guard) CheckScope(user *User, scope string) bool {
	return g.authz.HasScope(user, scope)
}

// Close releases resources held by the guard: the audit logger and any
// injected service that implements io.Closer.
func (g *Guard) Close() error {
	var firstErr error
	for _, svc := range []any{g.codec, g.users, g.authz, g.hasher} {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := g.audit.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
