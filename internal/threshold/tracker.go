// Package threshold detects shareholders dropping below the ownership
// reporting threshold between consecutive filings.
package threshold

import (
	"sort"

	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/models"
)

// DefaultThreshold is the reporting threshold, in percent, behind 13D/13G
// filings.
const DefaultThreshold = 5.0

// Tracker groups filings by reporting entity and scans each entity's
// filing history in date order for threshold crossings.
type Tracker struct {
	threshold float64
	logger    logging.Logger
}

// NewTracker creates a tracker. A non-positive threshold falls back to
// DefaultThreshold.
func NewTracker(threshold float64, logger logging.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold, logger: logger}
}

// DetectExits returns one exit per pair of consecutive filings where the
// entity's ownership moved from above the threshold to at or below it.
// The exit is dated by the later filing.
func (t *Tracker) DetectExits(filings []models.FilingRecord) []models.ThresholdExit {
	byEntity := make(map[string][]models.FilingRecord)
	for _, filing := range filings {
		key := entityKey(filing)
		byEntity[key] = append(byEntity[key], filing)
	}

	var exits []models.ThresholdExit
	for _, history := range byEntity {
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].FilingDate.Before(history[j].FilingDate)
		})

		for i := 1; i < len(history); i++ {
			prev, curr := history[i-1], history[i]
			if prev.OwnershipPct > t.threshold && curr.OwnershipPct <= t.threshold {
				exits = append(exits, models.ThresholdExit{
					CIK:         curr.CIK,
					CUSIP:       curr.CUSIP,
					Ticker:      curr.Ticker,
					CompanyName: curr.CompanyName,
					ExitDate:    curr.FilingDate,
					PreviousPct: prev.OwnershipPct,
					CurrentPct:  curr.OwnershipPct,
				})
				if t.logger != nil {
					t.logger.Debug("threshold exit detected",
						logging.String("cik", curr.CIK),
						logging.String("ticker", curr.Ticker),
						logging.Float64("previous_pct", prev.OwnershipPct),
						logging.Float64("current_pct", curr.OwnershipPct),
					)
				}
			}
		}
	}

	sort.Slice(exits, func(i, j int) bool {
		return exits[i].ExitDate.Before(exits[j].ExitDate)
	})

	if t.logger != nil {
		t.logger.Info("threshold exit detection completed",
			logging.Int("filings", len(filings)),
			logging.Int("exits", len(exits)),
		)
	}
	return exits
}

// entityKey identifies one reporting entity's position in one issuer. The
// CUSIP distinguishes positions when an entity reports on several issuers.
func entityKey(filing models.FilingRecord) string {
	return filing.CIK + "|" + filing.CUSIP
}
