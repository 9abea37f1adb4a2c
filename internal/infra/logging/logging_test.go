package logging

import (
	"log/slog"
	"testing"

	"github.com/cowprotocol/dex-solvers/internal/infra/config"
)

func TestConfigureSetsGlobalLogger(t *testing.T) {
	if _, err := config.Load(""); err != nil {
		t.Fatal(err)
	}
	Configure()
	if GetLogger() == nil {
		t.Fatal("GetLogger() = nil after Configure()")
	}
	if slog.Default() != GetLogger() {
		t.Error("slog.Default() should be the configured logger")
	}
}

func TestGetLoggerConfiguresLazily(t *testing.T) {
	globalLogger = nil
	if GetLogger() == nil {
		t.Fatal("GetLogger() should configure a logger on first call")
	}
}
