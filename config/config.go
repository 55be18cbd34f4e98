// Package config loads authkit settings from an optional YAML file, an
// optional .env file and the process environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the resolved configuration. It is loaded once at startup and
// treated as read-only afterwards.
type Settings struct {
	SecretKey                string `mapstructure:"secret_key" validate:"required,min=16"`
	Algorithm                string `mapstructure:"algorithm" validate:"required,oneof=HS256 HS384 HS512"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes" validate:"gt=0"`
	TokenLeewaySeconds       int    `mapstructure:"token_leeway_seconds" validate:"gte=0,lte=300"`
	BcryptCost               int    `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
	SuperadminScopeBypass    bool   `mapstructure:"superadmin_scope_bypass"`

	DatabaseURL    string `mapstructure:"database_url"`
	HTTPAddr       string `mapstructure:"http_addr" validate:"required"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`

	Log LogSettings `mapstructure:"log"`

	// Role tables are only read from the config file.
	RoleScopes      map[string][]string `mapstructure:"role_scopes"`
	RolePermissions map[string][]string `mapstructure:"role_permissions"`
}

// LogSettings configures the zap logger built by the logging package.
type LogSettings struct {
	Level    string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Encoding string `mapstructure:"encoding" validate:"oneof=json console"`
}

// AccessTokenTTL returns the token lifetime as a duration.
func (s *Settings) AccessTokenTTL() time.Duration {
	return time.Duration(s.AccessTokenExpireMinutes) * time.Minute
}

// Leeway returns the tolerated clock skew as a duration.
func (s *Settings) Leeway() time.Duration {
	return time.Duration(s.TokenLeewaySeconds) * time.Second
}

// envBindings maps viper keys to environment variable names.
var envBindings = map[string]string{
	"secret_key":                  "SECRET_KEY",
	"algorithm":                   "ALGORITHM",
	"access_token_expire_minutes": "ACCESS_TOKEN_EXPIRE_MINUTES",
	"token_leeway_seconds":        "TOKEN_LEEWAY_SECONDS",
	"bcrypt_cost":                 "BCRYPT_COST",
	"superadmin_scope_bypass":     "SUPERADMIN_SCOPE_BYPASS",
	"database_url":                "DATABASE_URL",
	"http_addr":                   "HTTP_ADDR",
	"metrics_enabled":             "METRICS_ENABLED",
	"log.level":                   "LOG_LEVEL",
	"log.encoding":                "LOG_ENCODING",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("algorithm", "HS256")
	v.SetDefault("access_token_expire_minutes", 30)
	v.SetDefault("token_leeway_seconds", 0)
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("superadmin_scope_bypass", false)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
}

type loader struct {
	configFile string
	envFile    string
}

// Option is a functional option for Load.
type Option func(*loader)

// WithConfigFile sets a YAML config file. It must exist.
func WithConfigFile(path string) Option {
	return func(l *loader) { l.configFile = path }
}

// WithEnvFile sets the .env file to load. A missing file is ignored.
// Default: ".env".
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// Load resolves and validates Settings.
func Load(opts ...Option) (*Settings, error) {
	l := loader{envFile: ".env"}
	for _, o := range opts {
		o(&l)
	}

	// godotenv never overrides variables already present in the environment.
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("authkit/config: load %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("authkit/config: bind %s: %w", env, err)
		}
	}

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("authkit/config: read %s: %w", l.configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("authkit/config: unmarshal: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints on s.
func Validate(s *Settings) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("authkit/config: %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("authkit/config: %w", err)
	}
	return nil
}
