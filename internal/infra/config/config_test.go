package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesTOMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	tomlContent := `
listenAddress = "127.0.0.1"
port = 9999

[dex]
relativeSlippage = 0.02

[dex.balancer]
endpoint = "https://sor.example/quote"
`
	if err := os.WriteFile(path, []byte(tomlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SOLVER_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddress != "127.0.0.1" {
		t.Errorf("ListenAddress = %s, want 127.0.0.1", cfg.ListenAddress)
	}
	if cfg.ListenPort != 9999 {
		t.Errorf("ListenPort = %d, want 9999", cfg.ListenPort)
	}
	if cfg.Dex.RelativeSlippage != 0.02 {
		t.Errorf("RelativeSlippage = %v, want 0.02", cfg.Dex.RelativeSlippage)
	}
	if cfg.Dex.Balancer.Endpoint != "https://sor.example/quote" {
		t.Errorf("Balancer.Endpoint = %s", cfg.Dex.Balancer.Endpoint)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug (from env override)", cfg.Logging.Level)
	}
	// Defaults not touched by the TOML file or env should survive.
	if cfg.Dex.GasOffset != 106391 {
		t.Errorf("GasOffset = %d, want default 106391", cfg.Dex.GasOffset)
	}
	if cfg.Dex.ConcurrentRequests != 1 {
		t.Errorf("ConcurrentRequests = %d, want default 1", cfg.Dex.ConcurrentRequests)
	}

	if GetConfig() != cfg {
		t.Error("GetConfig() should return the same global instance Load() populated")
	}
}

func TestLoadWithoutConfigFileKeepsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dex.BackOffGrowthFactor != 2.0 {
		t.Errorf("BackOffGrowthFactor = %v, want default 2.0", cfg.Dex.BackOffGrowthFactor)
	}
}
