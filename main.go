package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"filings-pipeline/internal/cache"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/common/retry"
	"filings-pipeline/internal/config"
	"filings-pipeline/internal/enrichment"
	"filings-pipeline/internal/models"
	"filings-pipeline/internal/pipeline"
	"filings-pipeline/internal/providers/edgar"
	"filings-pipeline/internal/providers/market"
	"filings-pipeline/internal/ratelimit"
	"filings-pipeline/internal/redis"
	"filings-pipeline/internal/server"
	"filings-pipeline/internal/storage"
	"filings-pipeline/internal/threshold"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	// Redis is optional. Without it the caches run in-process only.
	var redisClient *redis.Client
	redisClient, err = redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Warn("redis unavailable, caches will run in-process only", logging.Err(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	filingCache := cache.NewTiered(cache.Config{
		Region:     "filing",
		Capacity:   cfg.FilingCacheSize,
		DefaultTTL: cfg.CacheTTL,
	}, redisClient, logger)
	marketCache := cache.NewTiered(cache.Config{
		Region:     "market",
		Capacity:   cfg.MarketCacheSize,
		DefaultTTL: cfg.CacheTTL,
	}, redisClient, logger)

	limiter, err := ratelimit.NewLimiter(map[string]ratelimit.Config{
		edgar.ProviderKey:  {MaxRequests: cfg.EdgarRateLimit, Window: cfg.RateLimitWindow},
		market.ProviderKey: {MaxRequests: cfg.MarketRateLimit, Window: cfg.RateLimitWindow},
	}, logger)
	if err != nil {
		log.Fatalf("Failed to configure rate limiter: %v", err)
	}

	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
		Retryable:  retry.DefaultPolicy().Retryable,
	}

	edgarClient, err := edgar.NewClient(edgar.Config{
		BaseURL:   cfg.EdgarBaseURL,
		UserAgent: cfg.UserAgent,
		Retry:     policy,
	}, limiter, logger)
	if err != nil {
		log.Fatalf("Failed to create EDGAR client: %v", err)
	}

	marketClient, err := market.NewClient(market.Config{
		BaseURL:   cfg.MarketBaseURL,
		UserAgent: cfg.UserAgent,
		Retry:     policy,
	}, limiter, logger)
	if err != nil {
		log.Fatalf("Failed to create market data client: %v", err)
	}

	store, err := storage.Open(storageConfig(cfg), logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	orchestrator := enrichment.NewOrchestrator(enrichment.Config{
		Concurrency: cfg.EnrichConcurrency,
		Intervals:   models.PerformanceIntervals,
		CacheTTL:    cfg.CacheTTL,
	}, marketClient, marketCache, logger)

	tracker := threshold.NewTracker(cfg.OwnershipThreshold, logger)
	runner := pipeline.NewRunner(edgarClient, orchestrator, store, tracker, filingCache, logger)

	handlers := server.NewHandlers(store, runner, cfg.FilingForms, cfg.EnrichTimeout, logger)
	srv := server.New(handlers.Router(), cfg.Port, logger)
	srv.Start()

	scheduler := startScheduler(cfg, runner, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", err)
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	storageCfg := storage.Config{
		Driver:    cfg.DatabaseType,
		DSN:       cfg.DatabasePath,
		BatchSize: cfg.BatchSize,
	}
	if cfg.DatabaseType == storage.DriverPostgres || cfg.DatabaseType == "postgresql" {
		storageCfg.Driver = storage.DriverPostgres
		storageCfg.DSN = cfg.PostgresConnString()
	}
	return storageCfg
}

// startScheduler wires the optional cron trigger. An empty schedule means
// runs are API-triggered only.
func startScheduler(cfg *config.Config, runner *pipeline.Runner, logger logging.Logger) *cron.Cron {
	if cfg.PipelineSchedule == "" {
		return nil
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.PipelineSchedule, func() {
		end := time.Now()
		start := end.AddDate(0, 0, -cfg.ScheduleLookbackDays)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.EnrichTimeout)
		defer cancel()

		if _, err := runner.Run(ctx, pipeline.Options{
			Forms: cfg.FilingForms,
			Start: start,
			End:   end,
		}); err != nil {
			logger.Error("scheduled pipeline run failed", err)
		}
	})
	if err != nil {
		log.Fatalf("Invalid pipeline schedule %q: %v", cfg.PipelineSchedule, err)
	}

	scheduler.Start()
	logger.Info("pipeline scheduler started", logging.String("schedule", cfg.PipelineSchedule))
	return scheduler
}
