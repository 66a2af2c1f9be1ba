package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New("", false)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if !log.Core().Enabled(zapcore.InfoLevel) || log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("default level must be info")
	}

	log, err = New("debug", true)
	if err != nil {
		t.Fatalf("dev: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug must be enabled")
	}

	if _, err := New("loud", false); err == nil {
		t.Fatalf("want error on unknown level")
	}
}
