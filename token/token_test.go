package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimerakang/authkit"
)

const testSecret = "test-secret-0123456789"

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCodec(t *testing.T, cfg Config) (*Codec, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	if cfg.SecretKey == "" {
		cfg.SecretKey = testSecret
	}
	c, err := NewCodec(cfg, WithClock(clk.now))
	require.NoError(t, err)
	return c, clk
}

func TestNewCodec(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{SecretKey: testSecret}, false},
		{"hs512", Config{SecretKey: testSecret, Algorithm: "HS512"}, false},
		{"missing secret", Config{}, true},
		{"unknown algorithm", Config{SecretKey: testSecret, Algorithm: "XS999"}, true},
		{"negative ttl", Config{SecretKey: testSecret, AccessTokenTTL: -time.Second}, true},
		{"negative leeway", Config{SecretKey: testSecret, Leeway: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDefaults(t *testing.T) {
	c, err := NewCodec(Config{SecretKey: testSecret})
	require.NoError(t, err)
	assert.Equal(t, "HS256", c.Algorithm())
	assert.Equal(t, 30*time.Minute, c.TTL())
}

func TestIssueDecodeRoundTrip(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			c, clk := newTestCodec(t, Config{Algorithm: alg})

			in := map[string]any{"sub": "alice", "role": "analyst"}
			tok, err := c.Issue(in, 15*time.Minute)
			require.NoError(t, err)

			claims, err := c.Decode(tok)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Subject)
			assert.Equal(t, authkit.TokenTypeAccess, claims.Type)
			assert.True(t, claims.IssuedAt.Equal(clk.t))
			assert.True(t, claims.ExpiresAt.Equal(clk.t.Add(15*time.Minute)))
			assert.Equal(t, map[string]any{"role": "analyst"}, claims.Custom)
		})
	}
}

func TestIssueDoesNotMutateInput(t *testing.T) {
	c, _ := newTestCodec(t, Config{})

	in := map[string]any{"sub": "alice"}
	_, err := c.Issue(in, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sub": "alice"}, in)
}

func TestIssueOverridesReservedClaims(t *testing.T) {
	c, clk := newTestCodec(t, Config{})

	tok, err := c.Issue(map[string]any{"sub": "alice", "type": "refresh", "exp": 1}, time.Minute)
	require.NoError(t, err)

	claims, err := c.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, authkit.TokenTypeAccess, claims.Type)
	assert.True(t, claims.ExpiresAt.Equal(clk.t.Add(time.Minute)))
}

func TestIssueDefaultTTL(t *testing.T) {
	c, clk := newTestCodec(t, Config{AccessTokenTTL: 5 * time.Minute})

	tok, err := c.Issue(map[string]any{"sub": "alice"}, 0)
	require.NoError(t, err)

	claims, err := c.Decode(tok)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.Equal(clk.t.Add(5*time.Minute)))
}

func TestIssueSigningFailure(t *testing.T) {
	// An RSA algorithm cannot sign with a shared secret.
	c, _ := newTestCodec(t, Config{Algorithm: "RS256"})

	_, err := c.Issue(map[string]any{"sub": "alice"}, time.Minute)
	require.Error(t, err)

	var tce *authkit.TokenCreationError
	assert.True(t, errors.As(err, &tce))
	assert.True(t, errors.Is(err, jwt.ErrInvalidKeyType))
}

func TestDecodeExpired(t *testing.T) {
	c, clk := newTestCodec(t, Config{})

	tok, err := c.Issue(map[string]any{"sub": "alice"}, time.Minute)
	require.NoError(t, err)

	clk.t = clk.t.Add(time.Minute + time.Second)
	_, err = c.Decode(tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, authkit.ErrTokenExpired)
	assert.ErrorIs(t, err, authkit.ErrInvalidToken)
}

func TestDecodeLeeway(t *testing.T) {
	c, clk := newTestCodec(t, Config{Leeway: 30 * time.Second})

	tok, err := c.Issue(map[string]any{"sub": "alice"}, time.Minute)
	require.NoError(t, err)

	clk.t = clk.t.Add(time.Minute + 10*time.Second)
	_, err = c.Decode(tok)
	assert.NoError(t, err, "within leeway")

	clk.t = clk.t.Add(time.Minute)
	_, err = c.Decode(tok)
	assert.ErrorIs(t, err, authkit.ErrTokenExpired)
}

func TestDecodeInvalid(t *testing.T) {
	c, clk := newTestCodec(t, Config{})
	other, _ := newTestCodec(t, Config{SecretKey: "another-secret-987654"})
	hs512, _ := newTestCodec(t, Config{Algorithm: "HS512"})

	valid, err := c.Issue(map[string]any{"sub": "alice"}, time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue(map[string]any{"sub": "alice"}, time.Minute)
	require.NoError(t, err)
	wrongAlg, err := hs512.Issue(map[string]any{"sub": "alice"}, time.Minute)
	require.NoError(t, err)
	noSub, err := c.Issue(map[string]any{"role": "user"}, time.Minute)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"iat": clk.t.Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":           "",
		"garbage":         "not-a-jwt",
		"truncated":       valid[:len(valid)-4],
		"wrong secret":    foreign,
		"wrong algorithm": wrongAlg,
		"missing subject": noSub,
		"missing expiry":  noExp,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(tok)
			require.Error(t, err)
			assert.ErrorIs(t, err, authkit.ErrInvalidToken)
			assert.NotErrorIs(t, err, authkit.ErrTokenExpired)
		})
	}
}

func TestDecodeRejectsNoneAlgorithm(t *testing.T) {
	c, clk := newTestCodec(t, Config{})

	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice",
		"exp": clk.t.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.Decode(tok)
	assert.ErrorIs(t, err, authkit.ErrInvalidToken)
}
