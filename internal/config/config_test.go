package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":3000" {
		t.Errorf("Listen = %q, want :3000", cfg.Listen)
	}
	if cfg.Session != "main" {
		t.Errorf("Session = %q, want main", cfg.Session)
	}
	if cfg.BulkDelay() != 3*time.Second {
		t.Errorf("BulkDelay = %v, want 3s", cfg.BulkDelay())
	}
	if cfg.LogCap != 1000 {
		t.Errorf("LogCap = %d, want 1000", cfg.LogCap)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Listen = ":8081"
	cfg.Session = "work"
	cfg.BulkDelayMS = 500
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Listen != ":8081" || loaded.Session != "work" || loaded.BulkDelayMS != 500 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ZAPRELAY_LISTEN", ":9999")
	t.Setenv("ZAPRELAY_LOG_CAP", "50")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Listen = %q, want env override :9999", cfg.Listen)
	}
	if cfg.LogCap != 50 {
		t.Errorf("LogCap = %d, want env override 50", cfg.LogCap)
	}
}

func TestInvalidSessionNameRejected(t *testing.T) {
	t.Setenv("ZAPRELAY_SESSION", "Bad Name!")
	if _, err := Load(filepath.Join(t.TempDir(), "config.toml")); err == nil {
		t.Error("Load() expected error for invalid session name")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestPathsDeriveFromDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/zr"
	cfg.Session = "main"
	if got := cfg.SessionDBPath(); got != "/tmp/zr/sessions/main/session.db" {
		t.Errorf("SessionDBPath = %q", got)
	}
	if got := cfg.DataDBPath(); got != "/tmp/zr/sessions/main/data.db" {
		t.Errorf("DataDBPath = %q", got)
	}
	if got := cfg.LogPath(); got != "/tmp/zr/sessions/main/logs/zaprelayd.log" {
		t.Errorf("LogPath = %q", got)
	}
}
