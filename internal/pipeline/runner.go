// Package pipeline drives one end-to-end run: retrieve filings, resolve
// tickers, enrich with market data, persist, and detect threshold exits.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"filings-pipeline/internal/cache"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/models"
)

// tickerCacheKey holds the CIK-to-ticker mapping in the filing cache
// region between runs.
const tickerCacheKey = "company_tickers"

// FilingsProvider is the registry surface the runner depends on.
type FilingsProvider interface {
	FetchFilings(ctx context.Context, formKinds []string, start, end time.Time) ([]models.FilingRecord, error)
	FetchCompanyTickers(ctx context.Context) (map[string]models.TickerInfo, error)
}

// Enricher merges filings with market data.
type Enricher interface {
	Enrich(ctx context.Context, filings []models.FilingRecord) ([]models.EnrichedRecord, int)
}

// Persister writes run output.
type Persister interface {
	PersistFilings(ctx context.Context, records []models.EnrichedRecord) (int, error)
	PersistThresholdExits(ctx context.Context, exits []models.ThresholdExit) (int, error)
}

// ExitDetector scans filings for ownership threshold crossings.
type ExitDetector interface {
	DetectExits(filings []models.FilingRecord) []models.ThresholdExit
}

// Options selects what a run retrieves.
type Options struct {
	Forms []string
	Start time.Time
	End   time.Time
}

// Summary is the outcome of one run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Filings   int           `json:"filings"`
	Enriched  int           `json:"enriched"`
	Failures  int           `json:"failures"`
	Persisted int           `json:"persisted"`
	Exits     int           `json:"exits"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Runner wires the pipeline stages together. filingCache may be nil.
type Runner struct {
	provider    FilingsProvider
	enricher    Enricher
	store       Persister
	tracker     ExitDetector
	filingCache *cache.Tiered
	logger      logging.Logger
	now         func() time.Time
}

// NewRunner creates a runner.
func NewRunner(provider FilingsProvider, enricher Enricher, store Persister, tracker ExitDetector, filingCache *cache.Tiered, logger logging.Logger) *Runner {
	return &Runner{
		provider:    provider,
		enricher:    enricher,
		store:       store,
		tracker:     tracker,
		filingCache: filingCache,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes one pipeline pass. Enrichment failures are reported in the
// summary, not as errors; retrieval and persistence failures abort the
// run.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	startedAt := r.now()
	runID := fmt.Sprintf("run-%d", startedAt.UnixNano())
	ctx = logging.WithRunID(ctx, runID)

	logger := r.logger.WithContext(ctx)
	summary := Summary{RunID: runID, StartedAt: startedAt}

	logger.Info("pipeline run started",
		logging.Any("forms", opts.Forms),
		logging.Time("start", opts.Start),
		logging.Time("end", opts.End),
	)

	filings, err := r.provider.FetchFilings(ctx, opts.Forms, opts.Start, opts.End)
	if err != nil {
		logger.Error("filing retrieval failed", err)
		return summary, err
	}
	summary.Filings = len(filings)

	filings, err = r.resolveTickers(ctx, filings)
	if err != nil {
		logger.Error("ticker resolution failed", err)
		return summary, err
	}

	enriched, failures := r.enricher.Enrich(ctx, filings)
	summary.Enriched = len(enriched) - failures
	summary.Failures = failures

	persisted, err := r.store.PersistFilings(ctx, enriched)
	summary.Persisted = persisted
	if err != nil {
		logger.Error("persisting filings failed", err,
			logging.Int("persisted", persisted),
		)
		return summary, err
	}

	exits := r.tracker.DetectExits(filings)
	summary.Exits = len(exits)
	if _, err := r.store.PersistThresholdExits(ctx, exits); err != nil {
		logger.Error("persisting threshold exits failed", err)
		return summary, err
	}

	summary.Duration = r.now().Sub(startedAt)
	logger.Info("pipeline run completed",
		logging.Int("filings", summary.Filings),
		logging.Int("enriched", summary.Enriched),
		logging.Int("failures", summary.Failures),
		logging.Int("exits", summary.Exits),
		logging.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// resolveTickers fills in Ticker and CompanyName from the registry's
// CIK-to-ticker mapping, consulting the filing cache before the provider.
// Filings for unlisted entities keep an empty ticker.
func (r *Runner) resolveTickers(ctx context.Context, filings []models.FilingRecord) ([]models.FilingRecord, error) {
	if len(filings) == 0 {
		return filings, nil
	}

	tickers, err := r.loadTickers(ctx)
	if err != nil {
		return nil, err
	}

	resolved := make([]models.FilingRecord, len(filings))
	for i, filing := range filings {
		if info, ok := tickers[filing.CIK]; ok {
			if filing.Ticker == "" {
				filing.Ticker = info.Ticker
			}
			if filing.CompanyName == "" {
				filing.CompanyName = info.CompanyName
			}
		}
		resolved[i] = filing
	}
	return resolved, nil
}

func (r *Runner) loadTickers(ctx context.Context) (map[string]models.TickerInfo, error) {
	if r.filingCache != nil {
		if payload, ok := r.filingCache.Get(ctx, tickerCacheKey); ok {
			var tickers map[string]models.TickerInfo
			if err := json.Unmarshal(payload, &tickers); err == nil {
				return tickers, nil
			}
			r.filingCache.Invalidate(ctx, tickerCacheKey)
		}
	}

	tickers, err := r.provider.FetchCompanyTickers(ctx)
	if err != nil {
		return nil, err
	}

	if r.filingCache != nil {
		if payload, err := json.Marshal(tickers); err == nil {
			r.filingCache.Set(ctx, tickerCacheKey, payload, 0)
		}
	}
	return tickers, nil
}
