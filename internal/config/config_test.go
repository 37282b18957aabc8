package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 10, cfg.EdgarRateLimit)
	assert.Equal(t, 5, cfg.MarketRateLimit)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 1000, cfg.FilingCacheSize)
	assert.Equal(t, 100, cfg.MarketCacheSize)
	assert.Equal(t, 8, cfg.EnrichConcurrency)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, []string{"13D", "13G", "SC 13D", "SC 13G"}, cfg.FilingForms)
	assert.Equal(t, 5.0, cfg.OwnershipThreshold)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EDGAR_RATE_LIMIT", "20")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("ENRICH_CONCURRENCY", "4")
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 20, cfg.EdgarRateLimit)
	assert.Equal(t, 2*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 4, cfg.EnrichConcurrency)
	assert.Equal(t, "postgres", cfg.DatabaseType)
	assert.Equal(t, "db.internal", cfg.PostgresHost)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
edgar_rate_limit: 25
cache_ttl: 30m
filing_forms: ["13D"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.EdgarRateLimit)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"13D"}, cfg.FilingForms)
}

func TestEnvWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("edgar_rate_limit: 25\n"), 0644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("EDGAR_RATE_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.EdgarRateLimit)
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - not valid"), 0644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Port = "not-a-port"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad database type", func(t *testing.T) {
		cfg := base()
		cfg.DatabaseType = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres requires host", func(t *testing.T) {
		cfg := base()
		cfg.DatabaseType = "postgres"
		cfg.PostgresHost = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero rate window rejected", func(t *testing.T) {
		cfg := base()
		cfg.RateLimitWindow = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative rate limit rejected", func(t *testing.T) {
		cfg := base()
		cfg.EdgarRateLimit = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("retry delays ordered", func(t *testing.T) {
		cfg := base()
		cfg.RetryBaseDelay = 2 * time.Minute
		cfg.RetryMaxDelay = time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("user agent required", func(t *testing.T) {
		cfg := base()
		cfg.UserAgent = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestPostgresConnString(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db",
		PostgresPort:     "5433",
		PostgresUser:     "app",
		PostgresPassword: "secret",
		PostgresDB:       "filings",
		PostgresSSLMode:  "require",
	}

	assert.Equal(t,
		"host=db port=5433 user=app password=secret dbname=filings sslmode=require",
		cfg.PostgresConnString())
}
