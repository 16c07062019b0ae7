package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != Default() {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadOverridesAndFills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
api_base_url: http://localhost:9000/api
page_size: 25
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:9000/api" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.PageSize != 25 {
		t.Errorf("PageSize = %d, want 25", cfg.PageSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	// Fields the file leaves out keep their defaults.
	def := Default()
	if cfg.RequestTimeoutSeconds != def.RequestTimeoutSeconds {
		t.Errorf("RequestTimeoutSeconds = %d, want default %d", cfg.RequestTimeoutSeconds, def.RequestTimeoutSeconds)
	}
	if cfg.SyncSchedule != def.SyncSchedule {
		t.Errorf("SyncSchedule = %q, want default %q", cfg.SyncSchedule, def.SyncSchedule)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("page_size: [not a number"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed yaml")
	}
}

func TestResolveDataDirCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := Config{DataDir: dir}

	got, err := cfg.ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	if got != dir {
		t.Errorf("ResolveDataDir = %q, want %q", got, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Error("data directory was not created")
	}
}

func TestDerivedPaths(t *testing.T) {
	if got := DatabasePath("/data"); got != filepath.Join("/data", "activities.db") {
		t.Errorf("DatabasePath = %q", got)
	}
	if got := ConflictsDir("/data"); got != filepath.Join("/data", ".conflicts") {
		t.Errorf("ConflictsDir = %q", got)
	}
}
