package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "localhost:9000", cfg.ClickHouse.Addr())
	require.Equal(t, 30, cfg.DailyLookbackDays)
	require.Equal(t, 13, cfg.Concurrency)
	require.Equal(t, 3, cfg.Retries)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gapless.yaml")
	body := []byte("clickhouse:\n  host: ch.internal\n  port: 9440\nconcurrency: 4\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ch.internal:9440", cfg.ClickHouse.Addr())
	require.Equal(t, 4, cfg.Concurrency)
	// Untouched options keep their defaults.
	require.Equal(t, 3, cfg.Retries)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gapless.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 4\n"), 0o644))

	t.Setenv("GAPLESS_CONCURRENCY", "7")
	t.Setenv("GAPLESS_CLICKHOUSE_HOST", "override.host")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Concurrency)
	require.Equal(t, "override.host", cfg.ClickHouse.Host)
}

func TestInvalidEnvFailsFast(t *testing.T) {
	t.Setenv("GAPLESS_RETRIES", "many")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero concurrency": func(c *Config) { c.Concurrency = 0 },
		"zero retries":     func(c *Config) { c.Retries = 0 },
		"bad port":         func(c *Config) { c.ClickHouse.Port = 0 },
		"empty host":       func(c *Config) { c.ClickHouse.Host = "" },
		"zero timeout":     func(c *Config) { c.ArchiveTimeoutSeconds = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
