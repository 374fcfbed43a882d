package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/curlos/statly-backend-sub000/internal/sync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statly.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
store_path: /tmp/statly.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Policy.TaskHealWindow != sync.DefaultTaskHealWindow {
		t.Errorf("TaskHealWindow = %v, want default %v", cfg.Policy.TaskHealWindow, sync.DefaultTaskHealWindow)
	}
	if cfg.Policy.MaxBatchBytes != sync.DefaultMaxBatchBytes {
		t.Errorf("MaxBatchBytes = %d, want default %d", cfg.Policy.MaxBatchBytes, sync.DefaultMaxBatchBytes)
	}
	if cfg.Daemon.Interval != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m default", cfg.Daemon.Interval)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard should be disabled by default")
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard port = %d, want 8080", cfg.Dashboard.Port)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
store_path: /data/statly.db
credentials_path: /data/credentials.yaml
users:
  - id: alice
    sources: [ticktick, todoist]
  - id: bob
    sources: [ticktick]
policy:
  task_heal_window: 48h
  session_heal_window: 24h
  max_chain_depth: 100
daemon:
  interval: 5m
dashboard:
  enabled: true
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Users) != 2 {
		t.Fatalf("got %d users, want 2", len(cfg.Users))
	}
	if cfg.Users[0].ID != "alice" || len(cfg.Users[0].Sources) != 2 {
		t.Errorf("users[0] = %+v", cfg.Users[0])
	}
	if cfg.Policy.TaskHealWindow != 48*time.Hour {
		t.Errorf("TaskHealWindow = %v, want 48h", cfg.Policy.TaskHealWindow)
	}
	if cfg.Policy.MaxChainDepth != 100 {
		t.Errorf("MaxChainDepth = %d, want 100", cfg.Policy.MaxChainDepth)
	}
	if cfg.Daemon.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", cfg.Daemon.Interval)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9090 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}

	policy := cfg.EnginePolicy()
	if policy.SessionHealWindow != 24*time.Hour {
		t.Errorf("EnginePolicy().SessionHealWindow = %v, want 24h", policy.SessionHealWindow)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"user without id", `
store_path: /tmp/statly.db
users:
  - sources: [ticktick]
`},
		{"user without sources", `
store_path: /tmp/statly.db
users:
  - id: alice
`},
		{"interval too short", `
store_path: /tmp/statly.db
daemon:
  interval: 10s
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() should fail validation")
			}
		})
	}
}
