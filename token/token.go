// Package token issues and decodes HMAC-signed JWT access tokens.
package token

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/chimerakang/authkit"
)

var _ authkit.TokenCodec = (*Codec)(nil)

// Defaults applied by NewCodec.
const (
	DefaultAlgorithm      = "HS256"
	DefaultAccessTokenTTL = 30 * time.Minute
)

// Config holds the signing parameters. It is read once at construction.
type Config struct {
	// SecretKey is the shared HMAC secret. Required.
	SecretKey string
	// Algorithm is a JWT "alg" name. Default: HS256.
	Algorithm string
	// AccessTokenTTL is used when Issue is called with ttl <= 0. Default: 30m.
	AccessTokenTTL time.Duration
	// Leeway tolerates clock skew when checking exp. Default: 0.
	Leeway time.Duration
}

func (c *Config) applyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return errors.New("authkit/token: secret key is required")
	}
	if jwt.GetSigningMethod(c.Algorithm) == nil {
		return fmt.Errorf("authkit/token: unknown algorithm %q", c.Algorithm)
	}
	if c.AccessTokenTTL < 0 {
		return fmt.Errorf("authkit/token: negative ttl %v", c.AccessTokenTTL)
	}
	if c.Leeway < 0 {
		return fmt.Errorf("authkit/token: negative leeway %v", c.Leeway)
	}
	return nil
}

// Codec implements authkit.TokenCodec.
type Codec struct {
	cfg    Config
	method jwt.SigningMethod
	parser *jwt.Parser
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithLogger sets the logger used to report issued tokens.
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// NewCodec validates cfg and creates a Codec.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Codec{
		cfg:    cfg,
		method: jwt.GetSigningMethod(cfg.Algorithm),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// Algorithm returns the configured signing algorithm.
func (c *Codec) Algorithm() string { return c.cfg.Algorithm }

// TTL returns the default token lifetime.
func (c *Codec) TTL() time.Duration { return c.cfg.AccessTokenTTL }

// Issue signs a copy of claims with exp, iat and type set. The caller's map
// is not modified. Signing failures return *authkit.TokenCreationError.
func (c *Codec) Issue(claims map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.cfg.AccessTokenTTL
	}
	now := c.now()
	exp := now.Add(ttl)

	mc := make(jwt.MapClaims, len(claims)+3)
	maps.Copy(mc, claims)
	mc["exp"] = jwt.NewNumericDate(exp)
	mc["iat"] = jwt.NewNumericDate(now)
	mc["type"] = authkit.TokenTypeAccess

	signed, err := jwt.NewWithClaims(c.method, mc).SignedString([]byte(c.cfg.SecretKey))
	if err != nil {
		return "", &authkit.TokenCreationError{Err: fmt.Errorf("authkit/token: sign: %w", err)}
	}

	sub, _ := claims["sub"].(string)
	c.logger.Info("access token created", zap.String("sub", sub), zap.Time("expires_at", exp))
	return signed, nil
}

// Decode verifies signature, algorithm and expiry and returns the claims.
// Every error wraps authkit.ErrInvalidToken; expired tokens also wrap
// authkit.ErrTokenExpired.
func (c *Codec) Decode(tokenString string) (*authkit.TokenClaims, error) {
	mc := jwt.MapClaims{}
	if _, err := c.parser.ParseWithClaims(tokenString, mc, c.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", authkit.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", authkit.ErrInvalidToken, err)
	}
	return toClaims(mc)
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
	}
	return []byte(c.cfg.SecretKey), nil
}

func toClaims(mc jwt.MapClaims) (*authkit.TokenClaims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", authkit.ErrInvalidToken)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", authkit.ErrInvalidToken)
	}

	claims := &authkit.TokenClaims{
		Subject:   sub,
		ExpiresAt: exp.Time,
		Custom:    make(map[string]any),
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	claims.Type, _ = mc["type"].(string)

	for k, v := range mc {
		switch k {
		case "sub", "exp", "iat", "type":
		default:
			claims.Custom[k] = v
		}
	}
	return claims, nil
}
