// Package logging builds the zap logger shared by authkit components.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chimerakang/authkit/config"
)

// New builds a logger writing to stdout with the configured level and
// encoding.
func New(s config.LogSettings) (*zap.Logger, error) {
	return build(s, []string{"stdout"})
}

func build(s config.LogSettings, outputs []string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("authkit/logging: %w", err)
	}
	encoding := s.Encoding
	if encoding == "" {
		encoding = "json"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderCfg,
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("authkit/logging: build: %w", err)
	}
	return logger.Named("authkit"), nil
}
