package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  url: postgres://historian:5432/plant
  history_table: tag_history
sync:
  update_interval_secs: 15
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.URL != "postgres://historian:5432/plant" {
		t.Errorf("URL = %q", cfg.Source.URL)
	}
	if cfg.Sync.UpdateInterval() != 15*time.Second {
		t.Errorf("UpdateInterval = %v, want 15s", cfg.Sync.UpdateInterval())
	}

	// Unset fields fall back to defaults.
	if cfg.Sync.RetentionWindow() != 7*24*time.Hour {
		t.Errorf("RetentionWindow = %v, want 168h", cfg.Sync.RetentionWindow())
	}
	if cfg.Store.Path != DefaultStorePath {
		t.Errorf("Store.Path = %q, want default", cfg.Store.Path)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %q, want default", cfg.Server.Port)
	}
	if cfg.Source.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want default", cfg.Source.MaxRetries)
	}
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("TAGCACHE_SOURCE_URL", "postgres://env-only")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.URL != "postgres://env-only" {
		t.Errorf("URL = %q, want env value", cfg.Source.URL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
source:
  url: postgres://file-url
sync:
  update_interval_secs: 60
`)
	t.Setenv("TAGCACHE_SOURCE_URL", "postgres://env-url")
	t.Setenv("TAGCACHE_UPDATE_INTERVAL_SECS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.URL != "postgres://env-url" {
		t.Errorf("URL = %q, want env override", cfg.Source.URL)
	}
	if cfg.Sync.UpdateIntervalSecs != 5 {
		t.Errorf("UpdateIntervalSecs = %d, want 5", cfg.Sync.UpdateIntervalSecs)
	}
}

func TestLoad_MissingURLRejected(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected validation error without a source url")
	}
}

func TestLoad_LookbackBeyondRetentionRejected(t *testing.T) {
	path := writeConfig(t, `
source:
  url: postgres://historian
sync:
  initial_lookback_hours: 200
  retention_window_days: 7
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for lookback beyond retention")
	}
}
