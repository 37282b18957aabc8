// Package enrichment merges filings with market data: price history,
// company snapshot, and performance metrics per filing.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"filings-pipeline/internal/cache"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/models"
)

// PriceProvider is the market-data surface the orchestrator depends on.
type PriceProvider interface {
	History(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error)
	Info(ctx context.Context, ticker string) (models.TickerInfo, error)
}

// Config holds orchestrator tuning.
type Config struct {
	// Concurrency caps in-flight provider fetches.
	Concurrency int
	// Intervals are the lookback offsets, in days, for performance metrics.
	Intervals []int
	// CacheTTL applies to cached per-ticker market data.
	CacheTTL time.Duration
}

// Orchestrator fans enrichment work out across distinct tickers. Each
// distinct ticker is fetched at most once per Enrich call, concurrently up
// to the configured cap, with results shared across all filings for that
// ticker.
type Orchestrator struct {
	config   Config
	provider PriceProvider
	cache    *cache.Tiered
	gate     *semaphore.Weighted
	logger   logging.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator. cache may be nil to disable
// market-data caching.
func NewOrchestrator(config Config, provider PriceProvider, marketCache *cache.Tiered, logger logging.Logger) *Orchestrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if len(config.Intervals) == 0 {
		config.Intervals = models.PerformanceIntervals
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}

	return &Orchestrator{
		config:   config,
		provider: provider,
		cache:    marketCache,
		gate:     semaphore.NewWeighted(int64(config.Concurrency)),
		logger:   logger,
		now:      time.Now,
	}
}

// tickerData is the unit of work shared by all filings for one ticker. It
// is also the cached payload.
type tickerData struct {
	Prices models.PriceSeries `json:"prices"`
	Info   models.TickerInfo  `json:"info"`
}

// Enrich returns exactly one enriched record per input filing, in input
// order. Filings without a resolved ticker pass through with empty
// metrics. A failed ticker marks all of its filings with a failure reason
// and leaves every other ticker's filings untouched. The second return
// value counts failed records.
func (o *Orchestrator) Enrich(ctx context.Context, filings []models.FilingRecord) ([]models.EnrichedRecord, int) {
	byTicker := make(map[string][]int)
	for i, filing := range filings {
		if filing.Ticker == "" {
			continue
		}
		byTicker[filing.Ticker] = append(byTicker[filing.Ticker], i)
	}

	start, end := o.historyWindow(filings)

	type outcome struct {
		data tickerData
		err  error
	}
	results := make(map[string]outcome, len(byTicker))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for ticker := range byTicker {
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()

			if err := o.gate.Acquire(ctx, 1); err != nil {
				mu.Lock()
				results[ticker] = outcome{err: fmt.Errorf("enrichment cancelled: %w", err)}
				mu.Unlock()
				return
			}
			defer o.gate.Release(1)

			data, err := o.fetchTicker(ctx, ticker, start, end)
			mu.Lock()
			results[ticker] = outcome{data: data, err: err}
			mu.Unlock()
		}(ticker)
	}
	wg.Wait()

	enriched := make([]models.EnrichedRecord, len(filings))
	failures := 0
	for i, filing := range filings {
		record := models.EnrichedRecord{FilingRecord: filing, Performance: models.PerformanceMetrics{}}

		if filing.Ticker != "" {
			result := results[filing.Ticker]
			if result.err != nil {
				record.FailureReason = result.err.Error()
				failures++
			} else {
				record.MarketCap = result.data.Info.MarketCap
				record.CurrentPrice = result.data.Info.CurrentPrice
				record.Performance = ComputeMetrics(result.data.Prices, filing.FilingDate, o.config.Intervals)
			}
		}
		enriched[i] = record
	}

	o.logger.Info("enrichment completed",
		logging.Int("filings", len(filings)),
		logging.Int("tickers", len(byTicker)),
		logging.Int("failures", failures),
	)
	return enriched, failures
}

// fetchTicker returns market data for one ticker, consulting the cache
// before the provider. A corrupt cache entry is treated as a miss.
func (o *Orchestrator) fetchTicker(ctx context.Context, ticker string, start, end time.Time) (tickerData, error) {
	key := fmt.Sprintf("history:%s:%s:%s", ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))

	if o.cache != nil {
		if payload, ok := o.cache.Get(ctx, key); ok {
			var data tickerData
			if err := json.Unmarshal(payload, &data); err == nil {
				o.logger.Debug("market data resolved",
					logging.String("ticker", ticker),
					logging.Bool("cache_hit", true),
				)
				return data, nil
			}
			o.cache.Invalidate(ctx, key)
		}
	}

	prices, err := o.provider.History(ctx, ticker, start, end)
	if err != nil {
		return tickerData{}, err
	}
	info, err := o.provider.Info(ctx, ticker)
	if err != nil {
		return tickerData{}, err
	}
	o.logger.Debug("market data resolved",
		logging.String("ticker", ticker),
		logging.Bool("cache_hit", false),
	)

	data := tickerData{Prices: prices, Info: info}
	if o.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			o.cache.Set(ctx, key, payload, o.config.CacheTTL)
		}
	}
	return data, nil
}

// historyWindow spans from one week before the earliest filing, so a base
// price exists even when the filing lands on a weekend, to the latest
// filing plus the longest lookback interval, capped at today.
func (o *Orchestrator) historyWindow(filings []models.FilingRecord) (time.Time, time.Time) {
	now := o.now()
	start, end := now, time.Time{}
	for _, filing := range filings {
		if filing.FilingDate.Before(start) {
			start = filing.FilingDate
		}
		if filing.FilingDate.After(end) {
			end = filing.FilingDate
		}
	}
	if end.IsZero() {
		return now.AddDate(0, 0, -7), now
	}

	maxInterval := 0
	for _, interval := range o.config.Intervals {
		if interval > maxInterval {
			maxInterval = interval
		}
	}
	end = end.AddDate(0, 0, maxInterval)
	if end.After(now) {
		end = now
	}
	return start.AddDate(0, 0, -7), end
}
