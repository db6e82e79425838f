// Package config holds the relay configuration and the on-disk layout of
// its working directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents <data_dir>/config.toml, with environment overrides.
type Config struct {
	Listen      string `toml:"listen" env:"ZAPRELAY_LISTEN"`
	Session     string `toml:"session" env:"ZAPRELAY_SESSION"`
	DataDir     string `toml:"data_dir" env:"ZAPRELAY_DATA_DIR"`
	BulkDelayMS int    `toml:"bulk_delay_ms" env:"ZAPRELAY_BULK_DELAY_MS"`
	LogCap      int    `toml:"log_cap" env:"ZAPRELAY_LOG_CAP"`
}

var sessionNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:      ":3000",
		Session:     "main",
		DataDir:     defaultDataDir(),
		BulkDelayMS: 3000,
		LogCap:      1000,
	}
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zaprelay")
}

// Load reads the config file at path if it exists, then applies environment
// overrides. An empty path means <data_dir>/config.toml; a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.toml")
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if !sessionNamePattern.MatchString(cfg.Session) {
		return nil, fmt.Errorf("invalid session name %q: must match %s", cfg.Session, sessionNamePattern)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent dirs as needed.
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

// BulkDelay returns the default inter-send pacing for bulk jobs.
func (c *Config) BulkDelay() time.Duration {
	return time.Duration(c.BulkDelayMS) * time.Millisecond
}

// SessionDir returns the session-specific directory.
func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "sessions", c.Session)
}

// SessionDBPath returns the provider credential store path.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.SessionDir(), "session.db")
}

// DataDBPath returns the document store path.
func (c *Config) DataDBPath() string {
	return filepath.Join(c.SessionDir(), "data.db")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.SessionDir(), "logs")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "zaprelayd.log")
}

// EnsureDirs creates the session directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.SessionDir(), c.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
