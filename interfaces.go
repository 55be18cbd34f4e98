package authkit

import (
	"context"
	"time"
)

// UserRepository looks up users. Implementations return ErrUserNotFound
// (or a nil user) on a miss; any other error is treated as a lookup failure.
// Implementations: store/postgres, fake.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*User, error)
}

// PasswordHasher hashes and verifies passwords.
// Implementations: password.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	// Verify reports whether plain matches digest. It never fails; malformed
	// digests simply do not match.
	Verify(plain, digest string) bool
}

// TokenCodec issues and decodes signed access tokens.
// Implementations: token.
type TokenCodec interface {
	// Issue signs claims merged with exp, iat and type. A ttl <= 0 selects the
	// codec's configured default.
	Issue(claims map[string]any, ttl time.Duration) (string, error)

	// Decode verifies a token and returns its claims. Errors wrap ErrInvalidToken.
	Decode(token string) (*TokenClaims, error)
}

// Authorizer decides whether a user satisfies permission and scope
// requirements. Implementations: authz.
type Authorizer interface {
	HasPermissions(user *User, required ...string) bool
	HasScope(user *User, scope string) bool
}
