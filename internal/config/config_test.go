package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/outposthq/outpost/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine != store.EngineSQLite {
		t.Errorf("Expected default engine sqlite, got %s", cfg.Engine)
	}
	if cfg.SyncInterval != 120*time.Second {
		t.Errorf("Expected default sync interval 120s, got %s", cfg.SyncInterval)
	}
	if cfg.DebounceInterval != time.Second {
		t.Errorf("Expected default debounce 1s, got %s", cfg.DebounceInterval)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("Expected default probe interval 30s, got %s", cfg.ProbeInterval)
	}
	if cfg.DataDir == "" {
		t.Error("Expected a default data dir")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outpost.yaml")
	content := `
data_dir: /var/lib/outpost
engine: jsondoc
legacy_engine: sqlite
remote_url: https://api.example.com
remote_token: tok123
sync_interval: 45s
dashboard_port: 9100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine != store.EngineJSONDoc {
		t.Errorf("Expected engine jsondoc, got %s", cfg.Engine)
	}
	if cfg.LegacyEngine != store.EngineSQLite {
		t.Errorf("Expected legacy engine sqlite, got %s", cfg.LegacyEngine)
	}
	if cfg.RemoteURL != "https://api.example.com" {
		t.Errorf("Unexpected remote url: %s", cfg.RemoteURL)
	}
	if cfg.SyncInterval != 45*time.Second {
		t.Errorf("Expected sync interval 45s, got %s", cfg.SyncInterval)
	}
	if cfg.DashboardPort != 9100 {
		t.Errorf("Expected dashboard port 9100, got %d", cfg.DashboardPort)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		return path
	}

	if _, err := Load(write("bad-engine.yaml", "engine: leveldb\n")); err == nil {
		t.Error("Expected error for unknown engine")
	}
	if _, err := Load(write("same-engine.yaml", "engine: sqlite\nlegacy_engine: sqlite\n")); err == nil {
		t.Error("Expected error when legacy engine matches the active engine")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}

	if got := cfg.EnginePath(store.EngineSQLite); got != filepath.Join("/data", "outpost.db") {
		t.Errorf("Unexpected sqlite path: %s", got)
	}
	if got := cfg.EnginePath(store.EngineJSONDoc); got != filepath.Join("/data", "docs") {
		t.Errorf("Unexpected jsondoc path: %s", got)
	}
	if got := cfg.MarkerPath(); got != filepath.Join("/data", "migration.json") {
		t.Errorf("Unexpected marker path: %s", got)
	}
}

func TestEffectiveProbeURL(t *testing.T) {
	cfg := &Config{ProbeURL: "https://probe.example.com/ping"}
	if got := cfg.EffectiveProbeURL(); got != "https://probe.example.com/ping" {
		t.Errorf("Explicit probe url ignored: %s", got)
	}

	cfg = &Config{RemoteURL: "https://api.example.com"}
	if got := cfg.EffectiveProbeURL(); got != "https://api.example.com/health" {
		t.Errorf("Expected remote health fallback, got %s", got)
	}

	cfg = &Config{}
	if got := cfg.EffectiveProbeURL(); got != "" {
		t.Errorf("Expected empty probe url, got %s", got)
	}
}
