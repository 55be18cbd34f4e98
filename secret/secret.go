// Package secret generates API keys and derives the digests stored in
// place of them.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix marks keys issued by this package.
const Prefix = "ak_"

const keyBytes = 24

// GenerateAPIKey returns a new random key of the form ak_<48 hex chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("authkit/secret: generate key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}

// HashAPIKey returns the hex SHA-256 digest of key. API keys carry enough
// entropy that a fast hash is sufficient and allows indexed lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Equal compares a presented key against a stored digest in constant time.
func Equal(key, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIKey(key)), []byte(digest)) == 1
}

// Redact shortens key for logs, keeping the prefix and last four characters.
func Redact(key string) string {
	if len(key) <= len(Prefix)+4 {
		return strings.Repeat("*", len(key))
	}
	return key[:len(Prefix)] + "..." + key[len(key)-4:]
}
