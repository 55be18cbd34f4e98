// Package password hashes and verifies passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/chimerakang/authkit"
)

var _ authkit.PasswordHasher = (*BcryptHasher)(nil)

// BcryptHasher implements authkit.PasswordHasher.
type BcryptHasher struct {
	cost   int
	logger *zap.Logger
}

// Option configures a BcryptHasher.
type Option func(*BcryptHasher)

// WithCost sets the bcrypt work factor. Values outside
// [bcrypt.MinCost, bcrypt.MaxCost] are ignored.
func WithCost(cost int) Option {
	return func(h *BcryptHasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// WithLogger sets the logger used to report failed verifications.
func WithLogger(l *zap.Logger) Option {
	return func(h *BcryptHasher) { h.logger = l }
}

// NewBcryptHasher creates a hasher with bcrypt.DefaultCost.
func NewBcryptHasher(opts ...Option) *BcryptHasher {
	h := &BcryptHasher{cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int { return h.cost }

// Hash returns a salted bcrypt digest of plain. It fails only for input
// bcrypt rejects, such as passwords longer than 72 bytes.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("authkit/password: hash: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plain matches digest. Mismatches, malformed digests
// and library errors all report false and are logged at warn level.
func (h *BcryptHasher) Verify(plain, digest string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
	if err == nil {
		return true
	}

	reason := "internal"
	switch {
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		reason = "mismatch"
	case errors.Is(err, bcrypt.ErrHashTooShort):
		reason = "malformed_hash"
	default:
		var versionErr bcrypt.HashVersionTooNewError
		var prefixErr bcrypt.InvalidHashPrefixError
		if errors.As(err, &versionErr) || errors.As(err, &prefixErr) {
			reason = "malformed_hash"
		}
	}
	h.logger.Warn("password verification failed", zap.String("reason", reason), zap.Error(err))
	return false
}
