package enrichment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filings-pipeline/internal/models"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeMetricsSevenDay(t *testing.T) {
	series := models.PriceSeries{
		{Date: day("2024-01-01"), Close: 100},
		{Date: day("2024-01-08"), Close: 105},
		{Date: day("2024-01-10"), Close: 102},
	}

	metrics := ComputeMetrics(series, day("2024-01-01"), []int{7})

	require.Contains(t, metrics, 7)
	assert.InDelta(t, 5.0, metrics[7], 1e-9)
}

func TestComputeMetricsTargetResolvesBackward(t *testing.T) {
	// No close exactly 30 days out; the nearest earlier close is used.
	series := models.PriceSeries{
		{Date: day("2024-01-01"), Close: 100},
		{Date: day("2024-01-25"), Close: 110},
	}

	metrics := ComputeMetrics(series, day("2024-01-01"), []int{30})

	require.Contains(t, metrics, 30)
	assert.InDelta(t, 10.0, metrics[30], 1e-9)
}

func TestComputeMetricsRounding(t *testing.T) {
	series := models.PriceSeries{
		{Date: day("2024-01-01"), Close: 3},
		{Date: day("2024-01-08"), Close: 4},
	}

	metrics := ComputeMetrics(series, day("2024-01-01"), []int{7})

	assert.InDelta(t, 33.33, metrics[7], 1e-9)
}

func TestComputeMetricsNoBasePrice(t *testing.T) {
	series := models.PriceSeries{
		{Date: day("2024-02-01"), Close: 100},
	}

	metrics := ComputeMetrics(series, day("2024-01-01"), []int{7, 30})

	assert.Empty(t, metrics, "no close on or before the filing date")
}

func TestComputeMetricsEmptySeries(t *testing.T) {
	metrics := ComputeMetrics(nil, day("2024-01-01"), []int{7})
	assert.Empty(t, metrics)
}

func TestComputeMetricsBaseFromEarlierClose(t *testing.T) {
	// Filing on a Sunday; base falls back to Friday's close.
	series := models.PriceSeries{
		{Date: day("2024-01-05"), Close: 200},
		{Date: day("2024-01-12"), Close: 210},
	}

	metrics := ComputeMetrics(series, day("2024-01-07"), []int{7})

	require.Contains(t, metrics, 7)
	assert.InDelta(t, 5.0, metrics[7], 1e-9)
}
