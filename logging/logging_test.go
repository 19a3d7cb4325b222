package logging

import (
	"esprpc/config"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     config.Log
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{config.Log{Level: "info", Format: "json"}, zapcore.InfoLevel, zapcore.DebugLevel},
		{config.Log{Level: "debug", Format: "console"}, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{config.Log{Level: "warning"}, zapcore.WarnLevel, zapcore.InfoLevel},
		{config.Log{Level: "off"}, zapcore.FatalLevel + 1, zapcore.FatalLevel},
	}
	for _, tt := range tests {
		log, err := New(tt.cfg)
		if err != nil {
			t.Fatalf("%+v: %v", tt.cfg, err)
		}
		core := log.Core()
		if tt.enabled <= zapcore.FatalLevel && !core.Enabled(tt.enabled) {
			t.Errorf("%+v: %s should be enabled", tt.cfg, tt.enabled)
		}
		if core.Enabled(tt.muted) {
			t.Errorf("%+v: %s should be muted", tt.cfg, tt.muted)
		}
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, err := New(config.Log{Level: "loud"}); err == nil {
		t.Fatal("expect unknown level error")
	}
	if _, err := New(config.Log{Format: "xml"}); err == nil {
		t.Fatal("expect unknown format error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "console")
	log, err := New(config.Log{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(zapcore.WarnLevel) || !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("env level override ignored")
	}
}
