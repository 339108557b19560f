// Package config builds the process-wide configuration record: defaults,
// optional YAML file, then environment overrides. Invalid values fail fast.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const appID = "gapless-crypto-clickhouse"

// ClickHouseConfig is the store connection target.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Addr returns host:port for the native protocol.
func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Config carries every tunable recognized by the pipeline.
type Config struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	// DailyLookbackDays is the cutoff between monthly and daily archives.
	DailyLookbackDays int `yaml:"daily_lookback_days"`
	// Concurrency bounds parallel archive downloads.
	Concurrency int `yaml:"concurrency"`
	// Retries is the attempt budget per HTTP request.
	Retries int `yaml:"retries"`

	ArchiveTimeoutSeconds int `yaml:"archive_timeout_seconds"`
	RESTTimeoutSeconds    int `yaml:"rest_timeout_seconds"`

	// CacheDir holds the etag store and cached archives.
	CacheDir string `yaml:"cache_dir"`
}

// Default returns the documented defaults.
func Default() *Config {
	cacheDir := ""
	if base, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(base, appID)
	}
	return &Config{
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "default",
			Username: "default",
			Password: "",
		},
		DailyLookbackDays:     30,
		Concurrency:           13,
		Retries:               3,
		ArchiveTimeoutSeconds: 30,
		RESTTimeoutSeconds:    30,
		CacheDir:              cacheDir,
	}
}

// Load builds the config: defaults, then the YAML file at path (skipped when
// path is empty), then GAPLESS_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("GAPLESS_CLICKHOUSE_HOST"); ok {
		c.ClickHouse.Host = v
	}
	if v, ok := os.LookupEnv("GAPLESS_CLICKHOUSE_DATABASE"); ok {
		c.ClickHouse.Database = v
	}
	if v, ok := os.LookupEnv("GAPLESS_CLICKHOUSE_USER"); ok {
		c.ClickHouse.Username = v
	}
	if v, ok := os.LookupEnv("GAPLESS_CLICKHOUSE_PASSWORD"); ok {
		c.ClickHouse.Password = v
	}
	if v, ok := os.LookupEnv("GAPLESS_CACHE_DIR"); ok {
		c.CacheDir = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"GAPLESS_CLICKHOUSE_PORT", &c.ClickHouse.Port},
		{"GAPLESS_DAILY_LOOKBACK_DAYS", &c.DailyLookbackDays},
		{"GAPLESS_CONCURRENCY", &c.Concurrency},
		{"GAPLESS_RETRIES", &c.Retries},
		{"GAPLESS_ARCHIVE_TIMEOUT_SECONDS", &c.ArchiveTimeoutSeconds},
		{"GAPLESS_REST_TIMEOUT_SECONDS", &c.RESTTimeoutSeconds},
	}
	for _, opt := range ints {
		v, ok := os.LookupEnv(opt.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", opt.name, v)
		}
		*opt.dst = n
	}
	return nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse host must not be empty")
	}
	if c.ClickHouse.Port <= 0 || c.ClickHouse.Port > 65535 {
		return fmt.Errorf("clickhouse port %d out of range", c.ClickHouse.Port)
	}
	if c.DailyLookbackDays < 0 {
		return fmt.Errorf("daily lookback must not be negative: %d", c.DailyLookbackDays)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1: %d", c.Concurrency)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1: %d", c.Retries)
	}
	if c.ArchiveTimeoutSeconds < 1 || c.RESTTimeoutSeconds < 1 {
		return fmt.Errorf("timeouts must be at least 1 second")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory could not be resolved; set GAPLESS_CACHE_DIR")
	}
	return nil
}

// DailyLookback returns the cutoff window as a duration.
func (c *Config) DailyLookback() time.Duration {
	return time.Duration(c.DailyLookbackDays) * 24 * time.Hour
}

// ArchiveTimeout returns the per-request timeout for CDN downloads.
func (c *Config) ArchiveTimeout() time.Duration {
	return time.Duration(c.ArchiveTimeoutSeconds) * time.Second
}

// RESTTimeout returns the per-request timeout for the klines endpoint.
func (c *Config) RESTTimeout() time.Duration {
	return time.Duration(c.RESTTimeoutSeconds) * time.Second
}
