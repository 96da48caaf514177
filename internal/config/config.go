// Package config loads runtime configuration from a config file,
// environment variables and flags, in that order of increasing
// precedence.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/outposthq/outpost/internal/store"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir is the root directory for all local state.
	DataDir string `mapstructure:"data_dir"`

	// Engine selects the storage backend ("sqlite" or "jsondoc").
	Engine store.Engine `mapstructure:"engine"`

	// LegacyEngine names the engine being migrated away from, if any.
	// Empty means no migration is pending.
	LegacyEngine store.Engine `mapstructure:"legacy_engine"`

	// RemoteURL is the base URL of the remote service.
	RemoteURL string `mapstructure:"remote_url"`

	// RemoteToken is the bearer token sent with remote requests.
	RemoteToken string `mapstructure:"remote_token"`

	// RemoteTimeout bounds one remote request.
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`

	// ProbeURL is the connectivity probe target. Defaults to a HEAD
	// against the remote service when empty.
	ProbeURL string `mapstructure:"probe_url"`

	// ProbeInterval is the periodic connectivity check cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// SyncInterval is the periodic drain cadence while online.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// DebounceInterval batches enqueue bursts before draining.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`

	// DashboardPort serves the WebSocket status feed. Zero disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives rotated logs. Empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from the given file (optional), the
// environment (OUTPOST_ prefix) and defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("engine", string(store.EngineSQLite))
	v.SetDefault("remote_timeout", 15*time.Second)
	v.SetDefault("probe_interval", 30*time.Second)
	v.SetDefault("sync_interval", 120*time.Second)
	v.SetDefault("debounce_interval", time.Second)
	v.SetDefault("dashboard_port", 0)

	v.SetEnvPrefix("OUTPOST")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Engine {
	case store.EngineSQLite, store.EngineJSONDoc:
	default:
		return fmt.Errorf("unknown engine %q (want %q or %q)", c.Engine, store.EngineSQLite, store.EngineJSONDoc)
	}
	if c.LegacyEngine != "" {
		if c.LegacyEngine != store.EngineSQLite && c.LegacyEngine != store.EngineJSONDoc {
			return fmt.Errorf("unknown legacy_engine %q", c.LegacyEngine)
		}
		if c.LegacyEngine == c.Engine {
			return fmt.Errorf("legacy_engine matches engine %q", c.Engine)
		}
	}
	return nil
}

// EnginePath returns the data path for an engine: a database file for
// sqlite, a directory for jsondoc.
func (c *Config) EnginePath(e store.Engine) string {
	switch e {
	case store.EngineSQLite:
		return filepath.Join(c.DataDir, "outpost.db")
	case store.EngineJSONDoc:
		return filepath.Join(c.DataDir, "docs")
	default:
		return filepath.Join(c.DataDir, string(e))
	}
}

// MarkerPath locates the migration completion marker. It sits directly
// under the data dir, outside both engines' data, so neither engine
// cleanup can erase it.
func (c *Config) MarkerPath() string {
	return filepath.Join(c.DataDir, "migration.json")
}

// EffectiveProbeURL returns the probe target, falling back to the
// remote service's health endpoint.
func (c *Config) EffectiveProbeURL() string {
	if c.ProbeURL != "" {
		return c.ProbeURL
	}
	if c.RemoteURL != "" {
		return c.RemoteURL + "/health"
	}
	return ""
}

func defaultDataDir() string {
	return filepath.Join(".", "data")
}
