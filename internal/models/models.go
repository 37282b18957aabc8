// Package models defines the data types that flow through the enrichment
// pipeline: raw filings retrieved from the registry, price series fetched
// from the market-data provider, and the enriched records handed to storage.
package models

import "time"

// PerformanceIntervals are the lookback offsets, in days from the filing
// date, for which performance metrics are computed.
var PerformanceIntervals = []int{7, 30, 182, 365, 730}

// FilingRecord is a single regulatory filing as retrieved from the filings
// registry. Records are immutable once retrieved.
type FilingRecord struct {
	CIK          string    `json:"cik"`
	CUSIP        string    `json:"cusip,omitempty"`
	CompanyName  string    `json:"company_name,omitempty"`
	FilingKind   string    `json:"form_type"`
	FilingDate   time.Time `json:"filing_date"`
	SharesOwned  int64     `json:"shares_owned"`
	OwnershipPct float64   `json:"ownership_percentage"`

	// Ticker is empty when the entity could not be resolved to a traded
	// symbol. Such filings still pass through enrichment untouched.
	Ticker string `json:"ticker,omitempty"`
}

// PricePoint is one closing price on a trading day.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is an ordered sequence of price points for one ticker,
// ascending by date.
type PriceSeries []PricePoint

// LatestOnOrBefore returns the latest price point whose date is on or
// before target. The second return value is false when no such point
// exists.
func (s PriceSeries) LatestOnOrBefore(target time.Time) (PricePoint, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Date.After(target) {
			return s[i], true
		}
	}
	return PricePoint{}, false
}

// PerformanceMetrics maps a lookback interval (days) to the percentage
// price change from the filing date, rounded to two decimal places. An
// interval is absent when the series had no price point on or before
// filing_date + interval.
type PerformanceMetrics map[int]float64

// EnrichedRecord is a filing merged with market data. It is created by the
// orchestrator and consumed exactly once by the storage writer.
type EnrichedRecord struct {
	FilingRecord

	MarketCap    *float64           `json:"market_cap"`
	CurrentPrice *float64           `json:"current_price"`
	Performance  PerformanceMetrics `json:"performance"`

	// FailureReason records why market enrichment was not possible for
	// this record. Empty on success.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Failed reports whether market enrichment failed for this record.
func (r *EnrichedRecord) Failed() bool {
	return r.FailureReason != ""
}

// TickerInfo is the snapshot returned by the price provider's info call.
type TickerInfo struct {
	Ticker       string   `json:"ticker"`
	CompanyName  string   `json:"company_name"`
	MarketCap    *float64 `json:"market_cap"`
	CurrentPrice *float64 `json:"current_price"`
}

// ThresholdExit records a shareholder dropping below the ownership
// reporting threshold between two consecutive filings.
type ThresholdExit struct {
	CIK         string    `json:"cik"`
	CUSIP       string    `json:"cusip,omitempty"`
	Ticker      string    `json:"ticker,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	ExitDate    time.Time `json:"exit_date"`
	PreviousPct float64   `json:"previous_percentage"`
	CurrentPct  float64   `json:"current_percentage"`
}
