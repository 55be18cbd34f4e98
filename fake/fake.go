// Package fake provides an in-memory user repository and a fully wired
// Guard for tests.
//
// Use fake.NewGuard() in unit tests to avoid a database.
package fake

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chimerakang/authkit"
	"github.com/chimerakang/authkit/authz"
	"github.com/chimerakang/authkit/password"
	"github.com/chimerakang/authkit/secret"
	"github.com/chimerakang/authkit/token"
)

// Secret is the signing key used by NewGuard.
const Secret = "fake-secret-do-not-use-in-production"

var _ authkit.UserRepository = (*Repository)(nil)

// Repository is an in-memory authkit.UserRepository. API keys are stored as
// digests, as the Postgres repository does.
type Repository struct {
	mu      sync.RWMutex
	users   map[string]*authkit.User // username → user
	apiKeys map[string]string        // key digest → username
	err     error
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		users:   make(map[string]*authkit.User),
		apiKeys: make(map[string]string),
	}
}

// Put inserts or replaces a user. A missing ID is generated.
func (r *Repository) Put(u authkit.User) *authkit.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = time.Now()
	u.Permissions = slices.Clone(u.Permissions)
	r.users[u.Username] = &u
	return clone(&u)
}

// SetAPIKey links key to username.
func (r *Repository) SetAPIKey(key, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiKeys[secret.HashAPIKey(key)] = username
}

// SetActive toggles a user's active flag.
func (r *Repository) SetActive(username string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[username]; ok {
		u.Active = active
	}
}

// FailWith makes every lookup return err until called again with nil.
func (r *Repository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// GetByUsername implements authkit.UserRepository.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*authkit.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[username]
	if !ok {
		return nil, authkit.ErrUserNotFound
	}
	return clone(u), nil
}

// GetByAPIKey implements authkit.UserRepository.
func (r *Repository) GetByAPIKey(ctx context.Context, key string) (*authkit.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.err != nil {
		return nil, r.err
	}
	username, ok := r.apiKeys[secret.HashAPIKey(key)]
	if !ok {
		return nil, authkit.ErrUserNotFound
	}
	u, ok := r.users[username]
	if !ok {
		return nil, authkit.ErrUserNotFound
	}
	return clone(u), nil
}

func clone(u *authkit.User) *authkit.User {
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

// Option configures the fake guard.
type Option func(*setup)

type setup struct {
	repo      *Repository
	hasher    *password.BcryptHasher
	users     []userSpec
	keys      [][2]string
	authzOpts []authz.Option
	guardOpts []authkit.Option
	tokenCfg  token.Config
	tokenOpts []token.Option
}

type userSpec struct {
	user     authkit.User
	password string
}

// WithUser adds an active user with the given role and permissions.
func WithUser(username, role string, permissions ...string) Option {
	return func(s *setup) {
		s.users = append(s.users, userSpec{user: authkit.User{
			Username:    username,
			Email:       username + "@example.com",
			Role:        role,
			Permissions: permissions,
			Active:      true,
			Superuser:   role == authkit.RoleSuperadmin,
		}})
	}
}

// WithRecord adds u as is, hashing plain into PasswordHash when non-empty.
func WithRecord(u authkit.User, plain string) Option {
	return func(s *setup) { s.users = append(s.users, userSpec{user: u, password: plain}) }
}

// WithAPIKey links an API key to a user.
func WithAPIKey(key, username string) Option {
	return func(s *setup) { s.keys = append(s.keys, [2]string{key, username}) }
}

// WithAuthzOptions configures the authorization checker.
func WithAuthzOptions(opts ...authz.Option) Option {
	return func(s *setup) { s.authzOpts = append(s.authzOpts, opts...) }
}

// WithGuardOptions passes extra options to authkit.NewGuard.
func WithGuardOptions(opts ...authkit.Option) Option {
	return func(s *setup) { s.guardOpts = append(s.guardOpts, opts...) }
}

// WithTokenOptions configures the token codec.
func WithTokenOptions(opts ...token.Option) Option {
	return func(s *setup) { s.tokenOpts = append(s.tokenOpts, opts...) }
}

// NewGuard creates an *authkit.Guard wired to an in-memory repository, an
// HS256 codec signed with Secret, a minimum-cost bcrypt hasher and a
// default authz checker. It panics on invalid setup.
func NewGuard(opts ...Option) (*authkit.Guard, *Repository) {
	s := &setup{
		repo:     NewRepository(),
		hasher:   password.NewBcryptHasher(password.WithCost(bcrypt.MinCost)),
		tokenCfg: token.Config{SecretKey: Secret},
	}
	for _, o := range opts {
		o(s)
	}

	for _, spec := range s.users {
		u := spec.user
		if spec.password != "" {
			digest, err := s.hasher.Hash(spec.password)
			if err != nil {
				panic(err)
			}
			u.PasswordHash = digest
		}
		s.repo.Put(u)
	}
	for _, k := range s.keys {
		s.repo.SetAPIKey(k[0], k[1])
	}

	codec, err := token.NewCodec(s.tokenCfg, s.tokenOpts...)
	if err != nil {
		panic(err)
	}
	g, err := authkit.NewGuard(authkit.Config{}, append([]authkit.Option{
		authkit.WithTokenCodec(codec),
		authkit.WithUserRepository(s.repo),
		authkit.WithAuthorizer(authz.NewChecker(s.authzOpts...)),
		authkit.WithPasswordHasher(s.hasher),
	}, s.guardOpts...)...)
	if err != nil {
		panic(err)
	}
	return g, s.repo
}

// Token issues a valid access token for username from g.
func Token(g *authkit.Guard, username string) string {
	tok, err := g.IssueToken(map[string]any{"sub": username}, 0)
	if err != nil {
		panic(fmt.Errorf("fake: issue token: %w", err))
	}
	return tok
}
