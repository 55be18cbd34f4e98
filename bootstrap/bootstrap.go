// Package bootstrap assembles an *authkit.Guard from loaded settings.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chimerakang/authkit"
	"github.com/chimerakang/authkit/audit"
	"github.com/chimerakang/authkit/authz"
	"github.com/chimerakang/authkit/config"
	"github.com/chimerakang/authkit/metrics"
	"github.com/chimerakang/authkit/password"
	"github.com/chimerakang/authkit/store/postgres"
	"github.com/chimerakang/authkit/token"
)

// AuditBufferSize is the audit queue length used by NewGuard.
const AuditBufferSize = 1000

// NewGuard wires the token codec, bcrypt hasher, authorization checker,
// metrics and audit logger described by s around users. reg may be nil; it
// is ignored when s.MetricsEnabled is false.
func NewGuard(s config.Settings, users authkit.UserRepository, logger *zap.Logger, reg prometheus.Registerer, extra ...authkit.Option) (*authkit.Guard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	codec, err := token.NewCodec(token.Config{
		SecretKey:      s.SecretKey,
		Algorithm:      s.Algorithm,
		AccessTokenTTL: s.AccessTokenTTL(),
		Leeway:         s.Leeway(),
	}, token.WithLogger(logger.Named("token")))
	if err != nil {
		return nil, fmt.Errorf("authkit/bootstrap: %w", err)
	}

	var authzOpts []authz.Option
	if len(s.RoleScopes) > 0 {
		authzOpts = append(authzOpts, authz.WithRoleScopes(s.RoleScopes))
	}
	if len(s.RolePermissions) > 0 {
		authzOpts = append(authzOpts, authz.WithRolePermissions(s.RolePermissions))
	}
	if s.SuperadminScopeBypass {
		authzOpts = append(authzOpts, authz.WithSuperadminScopeBypass())
	}

	if !s.MetricsEnabled {
		reg = nil
	}

	auditLog := audit.New(AuditBufferSize, audit.WithZapHandler(logger.Named("audit")))
	opts := []authkit.Option{
		authkit.WithLogger(logger),
		authkit.WithTokenCodec(codec),
		authkit.WithUserRepository(users),
		authkit.WithAuthorizer(authz.NewChecker(authzOpts...)),
		authkit.WithPasswordHasher(password.NewBcryptHasher(
			password.WithCost(s.BcryptCost),
			password.WithLogger(logger.Named("password")),
		)),
		authkit.WithMetrics(metrics.New(reg)),
		authkit.WithAuditLogger(auditLog),
	}

	g, err := authkit.NewGuard(authkit.Config{AccessTokenTTL: s.AccessTokenTTL()}, append(opts, extra...)...)
	if err != nil {
		_ = auditLog.Close()
		return nil, fmt.Errorf("authkit/bootstrap: %w", err)
	}
	return g, nil
}

// OpenPostgres connects to dsn, applies the schema migrations and returns a
// repository bound to the pool. The caller closes the *sql.DB.
func OpenPostgres(ctx context.Context, dsn string) (*postgres.UserRepository, *sql.DB, error) {
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return postgres.NewUserRepository(db), db, nil
}
