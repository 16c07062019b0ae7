// Package config loads the fieldsync configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the tool's settings. Zero values fall back to defaults.
type Config struct {
	// APIBaseURL is the activity service root, e.g. https://crm.example.com/api.
	APIBaseURL string `yaml:"api_base_url"`
	// PageSize is the pull horizon: how many recent records one
	// reconciliation fetches from the server.
	PageSize int `yaml:"page_size"`
	// RequestTimeoutSeconds bounds every network call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	// DebounceMs is the delay before a triggered background sync runs.
	DebounceMs int `yaml:"debounce_ms"`
	// SyncSchedule is a cron expression for periodic sync in watch mode.
	SyncSchedule string `yaml:"sync_schedule"`
	// ProbeIntervalSeconds is how often watch mode checks connectivity.
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
	LogLevel             string `yaml:"log_level"`
	LogFile              string `yaml:"log_file"`
	// DataDir holds the SQLite database and conflict backups.
	DataDir string `yaml:"data_dir"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		APIBaseURL:            "https://api.spectile.co.ke/api",
		PageSize:              100,
		RequestTimeoutSeconds: 30,
		DebounceMs:            500,
		SyncSchedule:          "@every 5m",
		ProbeIntervalSeconds:  15,
		LogLevel:              "info",
	}
}

// DefaultPath returns ~/.config/fieldsync/config.yml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fieldsync", "config.yml"), nil
}

// Load reads the config file at path, filling unset fields with
// defaults. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Re-apply defaults for fields the file left empty or nonsensical.
	def := Default()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = def.RequestTimeoutSeconds
	}
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = def.DebounceMs
	}
	if cfg.SyncSchedule == "" {
		cfg.SyncSchedule = def.SyncSchedule
	}
	if cfg.ProbeIntervalSeconds <= 0 {
		cfg.ProbeIntervalSeconds = def.ProbeIntervalSeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	return cfg, nil
}

// ResolveDataDir returns the configured data directory, defaulting to
// ~/.local/share/fieldsync, and creates it if needed.
func (c Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".local", "share", "fieldsync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// DatabasePath returns the SQLite file path under the data directory.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "activities.db")
}

// ConflictsDir returns where superseded local copies are backed up.
func ConflictsDir(dataDir string) string {
	return filepath.Join(dataDir, ".conflicts")
}
