// Package config loads auralog configuration from the data directory.
//
// Settings come from config.yaml in the data dir, overridable through
// AURALOG_* environment variables (AURALOG_ROLE, AURALOG_PEER_URL, ...).
// A missing config file is not an error; defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full runtime configuration for the daemon and CLI.
type Config struct {
	// DataDir is the root directory for all persisted state.
	DataDir string `mapstructure:"-"`

	// Role is "primary" or "companion". The primary runs the periodic
	// sync poll.
	Role string `mapstructure:"role"`

	// Enabled is the stored sync preference.
	Enabled bool `mapstructure:"enabled"`

	// ListenAddr is the local WebSocket listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// PeerURL is the paired device's WebSocket endpoint, e.g.
	// ws://192.168.1.20:7390/ws. Empty means not yet paired.
	PeerURL string `mapstructure:"peer_url"`

	// PollInterval is the primary's periodic sync check interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// DebounceInterval batches rapid outbox writes together.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`

	// LogFile is the daemon log path. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// LegacyDataFile, when set, is a pre-sync-era JSONL export imported
	// once before sync starts.
	LegacyDataFile string `mapstructure:"legacy_data_file"`
}

// DefaultDataDir returns ~/.auralog, or the AURALOG_DATA_DIR override.
func DefaultDataDir() string {
	if dir := os.Getenv("AURALOG_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".auralog"
	}
	return filepath.Join(home, ".auralog")
}

// Load reads configuration from dataDir/config.yaml plus environment
// overrides. The data directory is created if absent.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)

	v.SetEnvPrefix("AURALOG")
	v.AutomaticEnv()

	v.SetDefault("role", "primary")
	v.SetDefault("enabled", true)
	v.SetDefault("listen_addr", "127.0.0.1:7390")
	v.SetDefault("peer_url", "")
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("debounce_interval", 200*time.Millisecond)
	v.SetDefault("log_file", "")
	v.SetDefault("legacy_data_file", "")

	// Env vars use underscores already; map ROLE -> role etc.
	for _, key := range []string{
		"role", "enabled", "listen_addr", "peer_url",
		"poll_interval", "debounce_interval", "log_file", "legacy_data_file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{DataDir: dataDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field domains.
func (c *Config) Validate() error {
	if c.Role != "primary" && c.Role != "companion" {
		return fmt.Errorf("invalid role %q (want primary or companion)", c.Role)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.DebounceInterval <= 0 {
		return fmt.Errorf("debounce_interval must be positive, got %v", c.DebounceInterval)
	}
	return nil
}

// Derived paths. Everything lives under DataDir so a single directory
// carries the whole device state.

// DBPath is the SQLite event store file.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "events.db") }

// TombstonePath is the append-only deletion registry.
func (c *Config) TombstonePath() string { return filepath.Join(c.DataDir, "tombstones.jsonl") }

// SlotPath is the persisted durable-channel context slot.
func (c *Config) SlotPath() string { return filepath.Join(c.DataDir, "context.slot") }

// OutboxDir is where the CLI drops edit files for the daemon.
func (c *Config) OutboxDir() string { return filepath.Join(c.DataDir, "outbox") }

// StatusPath is the daemon's periodically written status snapshot.
func (c *Config) StatusPath() string { return filepath.Join(c.DataDir, "status.json") }

// ImportMarkerPath marks the one-time legacy import as complete.
func (c *Config) ImportMarkerPath() string { return filepath.Join(c.DataDir, ".import-done") }
