// Package postgres implements authkit.UserRepository on PostgreSQL through
// database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/chimerakang/authkit"
	"github.com/chimerakang/authkit/secret"
	"github.com/chimerakang/authkit/store/postgres/migrations"
)

const (
	usersTable  = "users"
	userColumns = "id, username, email, role, permissions::text, password_hash, is_active, is_superuser, created_at, updated_at"
)

// DBTX is the subset of database/sql used by the repository.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ authkit.UserRepository = (*UserRepository)(nil)

// UserRepository reads and writes the users table. API keys are stored as
// SHA-256 digests and never in clear.
type UserRepository struct {
	db   DBTX
	psql sq.StatementBuilderType
}

// NewUserRepository binds a repository to db. Pass a *sql.Tx to scope all
// calls to one transaction.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("authkit/postgres: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("authkit/postgres: ping: %w", err)
	}
	return db, nil
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("authkit/postgres: dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("authkit/postgres: migrate: %w", err)
	}
	return nil
}

// GetByUsername implements authkit.UserRepository.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*authkit.User, error) {
	return r.findOne(ctx, sq.Eq{"username": username})
}

// GetByAPIKey implements authkit.UserRepository. key is hashed before the
// lookup.
func (r *UserRepository) GetByAPIKey(ctx context.Context, key string) (*authkit.User, error) {
	return r.findOne(ctx, sq.Eq{"api_key_hash": secret.HashAPIKey(key)})
}

func (r *UserRepository) findOne(ctx context.Context, where sq.Eq) (*authkit.User, error) {
	query, args, err := r.psql.Select(userColumns).From(usersTable).Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("authkit/postgres: build query: %w", err)
	}

	var (
		u     authkit.User
		perms string
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.Role, &perms,
		&u.PasswordHash, &u.Active, &u.Superuser, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authkit.ErrUserNotFound
		}
		return nil, fmt.Errorf("authkit/postgres: db error: %w", err)
	}
	if u.Permissions, err = decodeTextArray(perms); err != nil {
		return nil, fmt.Errorf("authkit/postgres: permissions: %w", err)
	}
	return &u, nil
}

// pgtype.Map caches scan plans and is not safe for concurrent use.
var typeMaps = sync.Pool{New: func() any { return pgtype.NewMap() }}

// decodeTextArray parses a text[] literal such as {read,"a b"}.
func decodeTextArray(raw string) ([]string, error) {
	m := typeMaps.Get().(*pgtype.Map)
	defer typeMaps.Put(m)

	out := []string{}
	if err := m.Scan(pgtype.TextArrayOID, pgtype.TextFormatCode, []byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts u and fills in its ID and timestamps.
func (r *UserRepository) Create(ctx context.Context, u *authkit.User) (*authkit.User, error) {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	query, args, err := r.psql.Insert(usersTable).
		Columns("username", "email", "role", "permissions", "password_hash", "is_active", "is_superuser").
		Values(u.Username, u.Email, u.Role, perms, u.PasswordHash, u.Active, u.Superuser).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("authkit/postgres: build insert: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("authkit/postgres: db error: %w", err)
	}
	return u, nil
}

// SetAPIKey stores the digest of key for username, replacing any previous
// key.
func (r *UserRepository) SetAPIKey(ctx context.Context, username, key string) error {
	return r.update(ctx, username, map[string]any{"api_key_hash": secret.HashAPIKey(key)})
}

// SetActive enables or disables username.
func (r *UserRepository) SetActive(ctx context.Context, username string, active bool) error {
	return r.update(ctx, username, map[string]any{"is_active": active})
}

func (r *UserRepository) update(ctx context.Context, username string, set map[string]any) error {
	query, args, err := r.psql.Update(usersTable).
		SetMap(set).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return fmt.Errorf("authkit/postgres: build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("authkit/postgres: db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("authkit/postgres: db error: %w", err)
	}
	if n == 0 {
		return authkit.ErrUserNotFound
	}
	return nil
}
