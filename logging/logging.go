// Package logging builds the zap logger every component takes.
package logging

import (
	"esprpc/config"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "ESPRPC_LOG_LEVEL"
	EnvLogFormat = "ESPRPC_LOG_FORMAT"
)

// New builds a logger from cfg after applying the environment overrides. The json
// format uses zap's production encoder, console the development one.
func New(cfg config.Log) (*zap.Logger, error) {
	applyEnvOverrides(&cfg)

	level, ok := parseLevel(cfg.Level)
	if !ok {
		return nil, fmt.Errorf("logging: unknown level %q", cfg.Level)
	}

	var zc zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func applyEnvOverrides(cfg *config.Log) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, true
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "off", "disabled", "none":
		return zapcore.FatalLevel + 1, true
	default:
		return zapcore.InfoLevel, false
	}
}
