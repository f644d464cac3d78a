package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level vigilsec configuration.
type Config struct {
	Version       string           `yaml:"version"`
	Server        ServerConfig     `yaml:"server"`
	Redis         RedisConfig      `yaml:"redis"`
	HistoryDB     string           `yaml:"history_db"`
	Monitoring    MonitoringConfig `yaml:"monitoring"`
	Notifications []Channel        `yaml:"notifications,omitempty"`
}

// ServerConfig holds the operator API server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"` // Address to bind (default: 127.0.0.1)
	LogLevel string `yaml:"log_level"`
}

// RedisConfig configures the external TTL-keyed store. With Enabled false
// (or the server unreachable) the engine runs in degraded, detection-only
// mode: no profile cache, no mitigation facts, no notification history.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// MonitoringConfig tunes the three background loops and the detectors.
type MonitoringConfig struct {
	IntervalMinutes          int     `yaml:"interval_minutes"`           // behavioral monitoring loop
	RefreshIntervalMinutes   int     `yaml:"refresh_interval_minutes"`   // profile refresh loop
	LifecycleIntervalMinutes int     `yaml:"lifecycle_interval_minutes"` // escalation + cleanup loop
	BufferSize               int     `yaml:"buffer_size"`                // per-entity activity ring
	Sensitivity              float64 `yaml:"sensitivity"`                // global threshold multiplier, 1.0 = defaults
}

// Channel defines one outbound notification endpoint.
type Channel struct {
	Name   string   `yaml:"name"` // e.g. "security", "operations", "priority"
	URL    string   `yaml:"url"`
	Events []string `yaml:"events,omitempty"` // severities to deliver; empty = all
}

// Load reads and parses a vigilsec config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Monitoring.IntervalMinutes == 0 {
		cfg.Monitoring.IntervalMinutes = 5
	}
	if cfg.Monitoring.RefreshIntervalMinutes == 0 {
		cfg.Monitoring.RefreshIntervalMinutes = 60
	}
	if cfg.Monitoring.LifecycleIntervalMinutes == 0 {
		cfg.Monitoring.LifecycleIntervalMinutes = 5
	}
	if cfg.Monitoring.BufferSize == 0 {
		cfg.Monitoring.BufferSize = 1000
	}
	if cfg.Monitoring.Sensitivity == 0 {
		cfg.Monitoring.Sensitivity = 1.0
	}
	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Port:     8470,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "127.0.0.1:6379",
		},
		HistoryDB: "vigilsec.db",
		Monitoring: MonitoringConfig{
			IntervalMinutes:          5,
			RefreshIntervalMinutes:   60,
			LifecycleIntervalMinutes: 5,
			BufferSize:               1000,
			Sensitivity:              1.0,
		},
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Monitoring.Sensitivity < 0.1 || c.Monitoring.Sensitivity > 10 {
		return fmt.Errorf("monitoring.sensitivity %.2f out of range [0.1, 10]", c.Monitoring.Sensitivity)
	}
	if c.Monitoring.BufferSize < 10 {
		return fmt.Errorf("monitoring.buffer_size must be at least 10")
	}
	for _, ch := range c.Notifications {
		if ch.Name == "" || ch.URL == "" {
			return fmt.Errorf("notification channel needs both name and url")
		}
	}
	return nil
}
