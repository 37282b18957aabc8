package enrichment

import (
	"math"
	"time"

	"filings-pipeline/internal/models"
)

// ComputeMetrics derives percentage price changes from the filing date
// forward over each lookback interval. The base price is the latest close
// on or before the filing date; each interval's target is the latest close
// on or before filing date plus the interval. Intervals with no resolvable
// target are omitted rather than zero-filled.
func ComputeMetrics(series models.PriceSeries, filingDate time.Time, intervals []int) models.PerformanceMetrics {
	metrics := models.PerformanceMetrics{}

	base, ok := series.LatestOnOrBefore(filingDate)
	if !ok || base.Close == 0 {
		return metrics
	}

	for _, interval := range intervals {
		target, ok := series.LatestOnOrBefore(filingDate.AddDate(0, 0, interval))
		if !ok {
			continue
		}
		pct := (target.Close - base.Close) / base.Close * 100
		metrics[interval] = math.Round(pct*100) / 100
	}
	return metrics
}
