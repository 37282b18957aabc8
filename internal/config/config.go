// Package config provides configuration management for the filings
// enrichment pipeline. Values are loaded from environment variables with
// sensible defaults, optionally overlaid from a YAML file, and validated
// before the process starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - CONFIG_FILE: Optional YAML configuration file overlay
//   - PIPELINE_SCHEDULE: Optional cron expression for scheduled runs
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./data/filings.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Redis Configuration (tier-2 cache):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Provider Configuration:
//   - EDGAR_BASE_URL, MARKET_BASE_URL: Provider endpoints
//   - PROVIDER_USER_AGENT: Identifying User-Agent sent on every request
//   - EDGAR_RATE_LIMIT: Filings provider requests per window (default: 10)
//   - MARKET_RATE_LIMIT: Price provider requests per window (default: 5)
//   - RATE_LIMIT_WINDOW: Sliding window length (default: 1s)
//
// Pipeline Tuning:
//   - ENRICH_CONCURRENCY: Concurrent price fetches (default: 8)
//   - ENRICH_TIMEOUT: Deadline for a whole enrichment pass (default: 10m)
//   - CACHE_TTL: Shared cache entry TTL (default: 1h)
//   - FILING_CACHE_SIZE / MARKET_CACHE_SIZE: Tier-1 capacities (1000 / 100)
//   - BATCH_SIZE: Storage batch size (default: 1000)
//   - MAX_RETRIES, RETRY_BASE_DELAY, RETRY_MAX_DELAY: Provider retry policy
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the pipeline. It is constructed
// once at process start and passed by reference into each component's
// constructor.
type Config struct {
	// Application settings
	Port             string `yaml:"port"`
	LogLevel         string `yaml:"log_level"`
	PipelineSchedule string `yaml:"pipeline_schedule"`

	// Database configuration
	DatabaseType     string `yaml:"database_type"`
	DatabasePath     string `yaml:"database_path"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresSSLMode  string `yaml:"postgres_ssl_mode"`

	// Redis tier-2 cache configuration
	RedisAddress  string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"`

	// Provider endpoints and identification
	EdgarBaseURL  string `yaml:"edgar_base_url"`
	MarketBaseURL string `yaml:"market_base_url"`
	UserAgent     string `yaml:"user_agent"`

	// Rate limiting (sliding window, per provider)
	EdgarRateLimit  int           `yaml:"edgar_rate_limit"`
	MarketRateLimit int           `yaml:"market_rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// Retry policy for provider calls
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	// Cache settings
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	FilingCacheSize int           `yaml:"filing_cache_size"`
	MarketCacheSize int           `yaml:"market_cache_size"`

	// Enrichment settings
	EnrichConcurrency int           `yaml:"enrich_concurrency"`
	EnrichTimeout     time.Duration `yaml:"enrich_timeout"`

	// Storage settings
	BatchSize int `yaml:"batch_size"`

	// Filing retrieval settings
	FilingForms        []string `yaml:"filing_forms"`
	PageSize           int      `yaml:"page_size"`
	OwnershipThreshold float64  `yaml:"ownership_threshold"`

	// ScheduleLookbackDays is how far back a scheduled run reaches from
	// the moment it fires.
	ScheduleLookbackDays int `yaml:"schedule_lookback_days"`
}

// Load creates a new Config instance with values loaded from environment
// variables. If CONFIG_FILE is set, the YAML file is applied first and
// environment variables take precedence over it.
//
// This function does not validate the configuration - call Validate() on
// the returned Config before use.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 "8080",
		LogLevel:             "info",
		DatabaseType:         "sqlite",
		DatabasePath:         "./data/filings.db",
		PostgresHost:         "localhost",
		PostgresPort:         "5432",
		PostgresDB:           "filings",
		PostgresUser:         "postgres",
		PostgresSSLMode:      "disable",
		RedisAddress:         "localhost:6379",
		RedisDB:              0,
		RedisPoolSize:        10,
		EdgarBaseURL:         "https://efts.sec.gov/LATEST",
		MarketBaseURL:        "https://query1.finance.yahoo.com/v8",
		UserAgent:            "filings-pipeline (research@example.com)",
		EdgarRateLimit:       10,
		MarketRateLimit:      5,
		RateLimitWindow:      time.Second,
		MaxRetries:           3,
		RetryBaseDelay:       time.Second,
		RetryMaxDelay:        60 * time.Second,
		CacheTTL:             time.Hour,
		FilingCacheSize:      1000,
		MarketCacheSize:      100,
		EnrichConcurrency:    8,
		EnrichTimeout:        10 * time.Minute,
		BatchSize:            1000,
		FilingForms:          []string{"13D", "13G", "SC 13D", "SC 13G"},
		PageSize:             100,
		OwnershipThreshold:   5.0,
		ScheduleLookbackDays: 7,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyYAML overlays values from a YAML configuration file.
func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays values from environment variables.
func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PipelineSchedule = getEnv("PIPELINE_SCHEDULE", c.PipelineSchedule)

	c.DatabaseType = getEnv("DATABASE_TYPE", c.DatabaseType)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.PostgresHost = getEnv("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnv("POSTGRES_PORT", c.PostgresPort)
	c.PostgresDB = getEnv("POSTGRES_DB", c.PostgresDB)
	c.PostgresUser = getEnv("POSTGRES_USER", c.PostgresUser)
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.PostgresPassword)
	c.PostgresSSLMode = getEnv("POSTGRES_SSL_MODE", c.PostgresSSLMode)

	c.RedisAddress = getEnv("REDIS_ADDRESS", c.RedisAddress)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntEnv("REDIS_DB", c.RedisDB)
	c.RedisPoolSize = getIntEnv("REDIS_POOL_SIZE", c.RedisPoolSize)

	c.EdgarBaseURL = getEnv("EDGAR_BASE_URL", c.EdgarBaseURL)
	c.MarketBaseURL = getEnv("MARKET_BASE_URL", c.MarketBaseURL)
	c.UserAgent = getEnv("PROVIDER_USER_AGENT", c.UserAgent)

	c.EdgarRateLimit = getIntEnv("EDGAR_RATE_LIMIT", c.EdgarRateLimit)
	c.MarketRateLimit = getIntEnv("MARKET_RATE_LIMIT", c.MarketRateLimit)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	c.MaxRetries = getIntEnv("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getDurationEnv("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = getDurationEnv("RETRY_MAX_DELAY", c.RetryMaxDelay)

	c.CacheTTL = getDurationEnv("CACHE_TTL", c.CacheTTL)
	c.FilingCacheSize = getIntEnv("FILING_CACHE_SIZE", c.FilingCacheSize)
	c.MarketCacheSize = getIntEnv("MARKET_CACHE_SIZE", c.MarketCacheSize)

	c.EnrichConcurrency = getIntEnv("ENRICH_CONCURRENCY", c.EnrichConcurrency)
	c.EnrichTimeout = getDurationEnv("ENRICH_TIMEOUT", c.EnrichTimeout)

	c.BatchSize = getIntEnv("BATCH_SIZE", c.BatchSize)
	c.PageSize = getIntEnv("PAGE_SIZE", c.PageSize)
	c.ScheduleLookbackDays = getIntEnv("SCHEDULE_LOOKBACK_DAYS", c.ScheduleLookbackDays)
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable or returns a default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid. The application should call
// this after Load and before constructing components.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	if c.EdgarRateLimit < 1 || c.MarketRateLimit < 1 {
		return fmt.Errorf("provider rate limits must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be greater than zero")
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < RETRY_BASE_DELAY <= RETRY_MAX_DELAY")
	}

	if c.FilingCacheSize < 1 || c.MarketCacheSize < 1 {
		return fmt.Errorf("cache sizes must be positive")
	}

	if c.EnrichConcurrency < 1 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be at least 1")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be a positive number")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be a positive number")
	}

	if c.UserAgent == "" {
		return fmt.Errorf("PROVIDER_USER_AGENT is required by the filings registry")
	}
	if c.PipelineSchedule != "" && c.ScheduleLookbackDays < 1 {
		return fmt.Errorf("SCHEDULE_LOOKBACK_DAYS must be positive when PIPELINE_SCHEDULE is set")
	}

	return nil
}

// PostgresConnString builds the PostgreSQL connection string.
func (c *Config) PostgresConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}
