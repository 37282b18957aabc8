package enrichment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filings-pipeline/internal/cache"
	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/models"
)

type fakeProvider struct {
	mu           sync.Mutex
	historyCalls map[string]int
	series       map[string]models.PriceSeries
	infos        map[string]models.TickerInfo
	fail         map[string]error

	inflight    int32
	maxInflight int32
	delay       time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		historyCalls: make(map[string]int),
		series:       make(map[string]models.PriceSeries),
		infos:        make(map[string]models.TickerInfo),
		fail:         make(map[string]error),
	}
}

func (f *fakeProvider) History(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error) {
	current := atomic.AddInt32(&f.inflight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inflight, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls[ticker]++
	if err, ok := f.fail[ticker]; ok {
		return nil, err
	}
	return f.series[ticker], nil
}

func (f *fakeProvider) Info(ctx context.Context, ticker string) (models.TickerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[ticker]; ok {
		return models.TickerInfo{}, err
	}
	return f.infos[ticker], nil
}

func (f *fakeProvider) calls(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls[ticker]
}

func ptr(v float64) *float64 { return &v }

func filing(cik, ticker, date string) models.FilingRecord {
	return models.FilingRecord{
		CIK:          cik,
		Ticker:       ticker,
		FilingKind:   "13D",
		FilingDate:   day(date),
		OwnershipPct: 6.0,
	}
}

func seed(provider *fakeProvider, ticker string) {
	provider.series[ticker] = models.PriceSeries{
		{Date: day("2024-01-01"), Close: 100},
		{Date: day("2024-01-08"), Close: 105},
	}
	provider.infos[ticker] = models.TickerInfo{
		Ticker:       ticker,
		MarketCap:    ptr(1e9),
		CurrentPrice: ptr(105),
	}
}

func newTestOrchestrator(provider PriceProvider, marketCache *cache.Tiered) *Orchestrator {
	return NewOrchestrator(Config{Concurrency: 4, Intervals: []int{7}, CacheTTL: time.Hour},
		provider, marketCache, logging.NewDefaultLogger())
}

func TestEnrichPositionMapping(t *testing.T) {
	provider := newFakeProvider()
	seed(provider, "AAPL")
	seed(provider, "MSFT")
	orch := newTestOrchestrator(provider, nil)

	filings := []models.FilingRecord{
		filing("1", "AAPL", "2024-01-01"),
		filing("2", "", "2024-01-01"),
		filing("3", "MSFT", "2024-01-01"),
	}

	enriched, failures := orch.Enrich(context.Background(), filings)

	require.Len(t, enriched, 3, "exactly one output per input")
	assert.Zero(t, failures)
	assert.Equal(t, "1", enriched[0].CIK)
	assert.Equal(t, "2", enriched[1].CIK)
	assert.Equal(t, "3", enriched[2].CIK)
}

func TestEnrichNoTickerPassthrough(t *testing.T) {
	provider := newFakeProvider()
	orch := newTestOrchestrator(provider, nil)

	enriched, failures := orch.Enrich(context.Background(), []models.FilingRecord{
		filing("1", "", "2024-01-01"),
	})

	require.Len(t, enriched, 1)
	assert.Zero(t, failures)
	assert.False(t, enriched[0].Failed())
	assert.Nil(t, enriched[0].MarketCap)
	assert.Empty(t, enriched[0].Performance)
	assert.Equal(t, 0, provider.calls(""), "no provider call for unresolved tickers")
}

func TestEnrichDeduplicatesTickers(t *testing.T) {
	provider := newFakeProvider()
	seed(provider, "AAPL")
	orch := newTestOrchestrator(provider, nil)

	filings := []models.FilingRecord{
		filing("1", "AAPL", "2024-01-01"),
		filing("2", "AAPL", "2024-01-01"),
		filing("3", "AAPL", "2024-01-01"),
	}

	enriched, failures := orch.Enrich(context.Background(), filings)

	assert.Zero(t, failures)
	assert.Equal(t, 1, provider.calls("AAPL"), "one fetch shared by all filings for the ticker")
	for _, record := range enriched {
		require.NotNil(t, record.MarketCap)
		assert.InDelta(t, 1e9, *record.MarketCap, 1)
		assert.InDelta(t, 5.0, record.Performance[7], 1e-9)
	}
}

func TestEnrichFailureIsolation(t *testing.T) {
	provider := newFakeProvider()
	seed(provider, "AAPL")
	provider.fail["BAD"] = errors.RetrievalError("retry budget exhausted", nil)
	orch := newTestOrchestrator(provider, nil)

	filings := []models.FilingRecord{
		filing("1", "AAPL", "2024-01-01"),
		filing("2", "BAD", "2024-01-01"),
		filing("3", "BAD", "2024-01-01"),
	}

	enriched, failures := orch.Enrich(context.Background(), filings)

	assert.Equal(t, 2, failures)
	assert.False(t, enriched[0].Failed(), "healthy tickers are unaffected")
	assert.True(t, enriched[1].Failed())
	assert.True(t, enriched[2].Failed())
	assert.Nil(t, enriched[1].MarketCap)
	assert.Empty(t, enriched[1].Performance)
	assert.NotEmpty(t, enriched[1].FailureReason)
}

func TestEnrichConcurrencyCap(t *testing.T) {
	provider := newFakeProvider()
	provider.delay = 20 * time.Millisecond
	tickers := []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8"}
	filings := make([]models.FilingRecord, 0, len(tickers))
	for i, ticker := range tickers {
		seed(provider, ticker)
		filings = append(filings, filing(string(rune('1'+i)), ticker, "2024-01-01"))
	}

	orch := NewOrchestrator(Config{Concurrency: 3, Intervals: []int{7}, CacheTTL: time.Hour},
		provider, nil, logging.NewDefaultLogger())

	_, failures := orch.Enrich(context.Background(), filings)

	assert.Zero(t, failures)
	assert.LessOrEqual(t, atomic.LoadInt32(&provider.maxInflight), int32(3),
		"in-flight fetches never exceed the gate")
}

func TestEnrichUsesCache(t *testing.T) {
	provider := newFakeProvider()
	seed(provider, "AAPL")
	marketCache := cache.NewTiered(cache.Config{Region: "market", Capacity: 10, DefaultTTL: time.Hour}, nil, logging.NewDefaultLogger())
	orch := newTestOrchestrator(provider, marketCache)

	filings := []models.FilingRecord{filing("1", "AAPL", "2024-01-01")}

	_, failures := orch.Enrich(context.Background(), filings)
	require.Zero(t, failures)
	require.Equal(t, 1, provider.calls("AAPL"))

	enriched, failures := orch.Enrich(context.Background(), filings)
	require.Zero(t, failures)
	assert.Equal(t, 1, provider.calls("AAPL"), "second run served from cache")
	require.NotNil(t, enriched[0].MarketCap)
	assert.InDelta(t, 5.0, enriched[0].Performance[7], 1e-9)
}

func TestEnrichCancelledContext(t *testing.T) {
	provider := newFakeProvider()
	seed(provider, "AAPL")
	orch := newTestOrchestrator(provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enriched, failures := orch.Enrich(ctx, []models.FilingRecord{filing("1", "AAPL", "2024-01-01")})

	require.Len(t, enriched, 1, "output is complete even when cancelled")
	assert.Equal(t, 1, failures)
	assert.True(t, enriched[0].Failed())
}
