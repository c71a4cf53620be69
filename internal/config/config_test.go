package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if cfg.Engine.MaxIterations != 50 {
		t.Errorf("default max_iterations: %d", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.MaxSubAgents != 3 {
		t.Errorf("default max_sub_agents: %d", cfg.Engine.MaxSubAgents)
	}
	if cfg.Engine.InactivityTimeoutDuration().Seconds() != 300 {
		t.Errorf("default inactivity timeout: %v", cfg.Engine.InactivityTimeoutDuration())
	}
	if cfg.Server.Addr != ":8420" {
		t.Errorf("default server addr: %s", cfg.Server.Addr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	content := `
provider:
  model: test-model
  api_key: sk-test
engine:
  max_iterations: 10
  heartbeat_poll_seconds: 1
  inactivity_timeout_seconds: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Model != "test-model" {
		t.Errorf("file model lost: %s", cfg.Provider.Model)
	}
	if cfg.Engine.MaxIterations != 10 {
		t.Errorf("file max_iterations lost: %d", cfg.Engine.MaxIterations)
	}
	// Untouched keys keep defaults.
	if cfg.Engine.MaxSubAgents != 3 {
		t.Errorf("default not preserved: %d", cfg.Engine.MaxSubAgents)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_PROVIDER_API_KEY", "sk-from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("env override lost: %q", cfg.Provider.APIKey)
	}
}

func TestLoad_RejectsInvalidTimeouts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	content := `
engine:
  inactivity_timeout_seconds: 10
  heartbeat_poll_seconds: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("timeout shorter than poll must be rejected")
	}
}
