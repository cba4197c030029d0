package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.DedupWindowMinutes = 10
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.DedupWindow() != 10*time.Minute {
		t.Errorf("DedupWindow = %v, want 10m", loaded.DedupWindow())
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_profile = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DedupWindow() != 5*time.Minute {
		t.Errorf("DedupWindow = %v, want 5m", cfg.DedupWindow())
	}
	if cfg.DedupWindowStanza() != 60*time.Minute {
		t.Errorf("DedupWindowStanza = %v, want 1h", cfg.DedupWindowStanza())
	}
	if cfg.BackgroundBudget() != 180*time.Second {
		t.Errorf("BackgroundBudget = %v, want 180s", cfg.BackgroundBudget())
	}
	if cfg.BackgroundMargin() != 15*time.Second {
		t.Errorf("BackgroundMargin = %v, want 15s", cfg.BackgroundMargin())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
