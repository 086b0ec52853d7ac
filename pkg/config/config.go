// Package config loads the service configuration from a YAML file with
// environment-variable overrides for the settings that vary by deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Sync defaults
const (
	DefaultUpdateIntervalSecs  = 30
	DefaultRetentionWindowDays = 7
	DefaultInitialLookbackHrs  = 24
	DefaultBatchSize           = 1000
	DefaultMaxInMemoryRecords  = 100000
	DefaultStatusIntervalSecs  = 300
)

// Connection defaults
const (
	DefaultMaxRetries         = 5
	DefaultRetryDelaySecs     = 5
	DefaultConnectTimeoutSecs = 10
)

// Server defaults
const (
	DefaultPort      = "8080"
	DefaultStorePath = "tagcache.db"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Source SourceConfig `yaml:"source"`
	Store  StoreConfig  `yaml:"store"`
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`
}

// SourceConfig describes the remote historian.
type SourceConfig struct {
	URL                string `yaml:"url"`
	HistoryTable       string `yaml:"history_table"`
	TagTable           string `yaml:"tag_table"`
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelaySecs     int    `yaml:"retry_delay_secs"`
	ConnectTimeoutSecs int    `yaml:"connect_timeout_secs"`
}

// StoreConfig describes the local wide-table store.
type StoreConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	UpdateIntervalSecs  int     `yaml:"update_interval_secs"`
	RetentionWindowDays int     `yaml:"retention_window_days"`
	InitialLookbackHrs  int     `yaml:"initial_lookback_hours"`
	BatchSize           int     `yaml:"batch_size"`
	MaxInMemoryRecords  int     `yaml:"max_in_memory_records"`
	DefaultFill         float64 `yaml:"default_fill"`
	StatusIntervalSecs  int     `yaml:"status_interval_secs"`
}

// ServerConfig tunes the diagnostic HTTP server.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// Load reads the YAML file at path, fills in defaults, and applies
// environment overrides. A missing file is not an error; defaults and the
// environment alone can fully configure the service.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults + environment
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.MaxRetries <= 0 {
		c.Source.MaxRetries = DefaultMaxRetries
	}
	if c.Source.RetryDelaySecs <= 0 {
		c.Source.RetryDelaySecs = DefaultRetryDelaySecs
	}
	if c.Source.ConnectTimeoutSecs <= 0 {
		c.Source.ConnectTimeoutSecs = DefaultConnectTimeoutSecs
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Sync.UpdateIntervalSecs <= 0 {
		c.Sync.UpdateIntervalSecs = DefaultUpdateIntervalSecs
	}
	if c.Sync.RetentionWindowDays <= 0 {
		c.Sync.RetentionWindowDays = DefaultRetentionWindowDays
	}
	if c.Sync.InitialLookbackHrs <= 0 {
		c.Sync.InitialLookbackHrs = DefaultInitialLookbackHrs
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.MaxInMemoryRecords <= 0 {
		c.Sync.MaxInMemoryRecords = DefaultMaxInMemoryRecords
	}
	if c.Sync.StatusIntervalSecs <= 0 {
		c.Sync.StatusIntervalSecs = DefaultStatusIntervalSecs
	}
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
}

// applyEnv overrides settings that commonly differ per deployment. The
// historian URL carries credentials, so the environment wins over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TAGCACHE_SOURCE_URL"); v != "" {
		c.Source.URL = v
	}
	if v := os.Getenv("TAGCACHE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TAGCACHE_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("TAGCACHE_UPDATE_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.UpdateIntervalSecs = n
		}
	}
	if v := os.Getenv("TAGCACHE_RETENTION_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.RetentionWindowDays = n
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required (or set TAGCACHE_SOURCE_URL)")
	}
	if c.Sync.InitialLookbackHrs*3600 > c.Sync.RetentionWindowDays*86400 {
		return fmt.Errorf("sync.initial_lookback_hours (%d) exceeds the retention window (%d days)",
			c.Sync.InitialLookbackHrs, c.Sync.RetentionWindowDays)
	}
	return nil
}

// Duration accessors convert the file's integer units.

func (c *SyncConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSecs) * time.Second
}

func (c *SyncConfig) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionWindowDays) * 24 * time.Hour
}

func (c *SyncConfig) InitialLookback() time.Duration {
	return time.Duration(c.InitialLookbackHrs) * time.Hour
}

func (c *SyncConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSecs) * time.Second
}

func (c *SourceConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

func (c *SourceConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}
