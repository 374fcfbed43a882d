// Package config loads statlyd configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/curlos/statly-backend-sub000/internal/sync"
)

// UserConfig names one user and the sources to sync for them.
type UserConfig struct {
	ID      string   `mapstructure:"id"`
	Sources []string `mapstructure:"sources"`
}

// PolicyConfig mirrors the engine's tunable knobs.
type PolicyConfig struct {
	TaskHealWindow     time.Duration `mapstructure:"task_heal_window"`
	SessionHealWindow  time.Duration `mapstructure:"session_heal_window"`
	MaxBatchBytes      int           `mapstructure:"max_batch_bytes"`
	MaxChainDepth      int           `mapstructure:"max_chain_depth"`
	StaleLockThreshold time.Duration `mapstructure:"stale_lock_threshold"`
}

// DaemonConfig controls the periodic sync scheduler.
type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DashboardConfig controls the WebSocket event feed.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls optional file logging with rotation.
type LogConfig struct {
	Path       string `mapstructure:"path"` // empty means stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full statlyd configuration.
type Config struct {
	StorePath       string `mapstructure:"store_path"`
	CredentialsPath string `mapstructure:"credentials_path"`

	Users []UserConfig `mapstructure:"users"`

	Policy    PolicyConfig    `mapstructure:"policy"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads configuration from the given file path. Any key can be
// overridden with a STATLY_-prefixed environment variable, e.g.
// STATLY_STORE_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("STATLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_path", ".statly/statly.db")
	v.SetDefault("credentials_path", ".statly/credentials.yaml")

	v.SetDefault("policy.task_heal_window", sync.DefaultTaskHealWindow)
	v.SetDefault("policy.session_heal_window", sync.DefaultSessionHealWindow)
	v.SetDefault("policy.max_batch_bytes", sync.DefaultMaxBatchBytes)
	v.SetDefault("policy.max_chain_depth", sync.DefaultMaxChainDepth)
	v.SetDefault("policy.stale_lock_threshold", sync.DefaultStaleLockThreshold)

	v.SetDefault("daemon.interval", 15*time.Minute)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
}

// Validate checks the parts of the config that would otherwise fail far
// from their cause.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	for i, user := range c.Users {
		if user.ID == "" {
			return fmt.Errorf("users[%d].id is required", i)
		}
		if len(user.Sources) == 0 {
			return fmt.Errorf("users[%d] (%s) has no sources", i, user.ID)
		}
	}
	if c.Daemon.Interval < time.Minute {
		return fmt.Errorf("daemon.interval must be at least one minute (got %s)", c.Daemon.Interval)
	}
	return nil
}

// EnginePolicy converts the config knobs into an engine Policy.
func (c *Config) EnginePolicy() sync.Policy {
	return sync.Policy{
		TaskHealWindow:     c.Policy.TaskHealWindow,
		SessionHealWindow:  c.Policy.SessionHealWindow,
		MaxBatchBytes:      c.Policy.MaxBatchBytes,
		MaxChainDepth:      c.Policy.MaxChainDepth,
		StaleLockThreshold: c.Policy.StaleLockThreshold,
	}
}
