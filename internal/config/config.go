// Package config reads and writes the global ~/.conversa/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global configuration file. Window and budget
// values are documented defaults from field observation, configurable
// policy rather than protocol requirements.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	// Resource is the device name bound as the session resource.
	Resource string `toml:"resource"`

	// DedupWindowMinutes bounds duplicate absorption without a stanza
	// id; DedupWindowStanzaMinutes applies when one is present.
	DedupWindowMinutes       int `toml:"dedup_window_minutes"`
	DedupWindowStanzaMinutes int `toml:"dedup_window_stanza_minutes"`

	// BackgroundBudgetSeconds is how long sessions are kept alive after
	// backgrounding, clipped to the platform budget minus
	// BackgroundMarginSeconds.
	BackgroundBudgetSeconds int `toml:"background_budget_seconds"`
	BackgroundMarginSeconds int `toml:"background_margin_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Resource:                 "conversad",
		DedupWindowMinutes:       5,
		DedupWindowStanzaMinutes: 60,
		BackgroundBudgetSeconds:  180,
		BackgroundMarginSeconds:  15,
	}
}

// DedupWindow returns the no-stanza-id dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// DedupWindowStanza returns the stanza-id dedup window as a duration.
func (c *Config) DedupWindowStanza() time.Duration {
	return time.Duration(c.DedupWindowStanzaMinutes) * time.Minute
}

// BackgroundBudget returns the background keepalive budget.
func (c *Config) BackgroundBudget() time.Duration {
	return time.Duration(c.BackgroundBudgetSeconds) * time.Second
}

// BackgroundMargin returns the safety margin held back from the
// platform execution budget.
func (c *Config) BackgroundMargin() time.Duration {
	return time.Duration(c.BackgroundMarginSeconds) * time.Second
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.DedupWindowMinutes <= 0 {
		cfg.DedupWindowMinutes = 5
	}
	if cfg.DedupWindowStanzaMinutes <= 0 {
		cfg.DedupWindowStanzaMinutes = 60
	}
	if cfg.BackgroundBudgetSeconds <= 0 {
		cfg.BackgroundBudgetSeconds = 180
	}
	if cfg.BackgroundMarginSeconds <= 0 {
		cfg.BackgroundMarginSeconds = 15
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
