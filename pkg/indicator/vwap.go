package indicator

import (
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
)

// TypicalPrice returns (High + Low + Close) / 3 for a bar.
func TypicalPrice(b *models.Bar) float64 {
	return (b.High + b.Low + b.Close) / 3.0
}

// TrailingVWAP computes the volume-weighted average of the typical
// price over bars whose timestamps fall in (cutoff-window, cutoff].
// ok is false when the window contains no bar with positive volume;
// the VWAP is undefined in that case.
func TrailingVWAP(bars []models.Bar, cutoff time.Time, window time.Duration) (float64, bool) {
	start := cutoff.Add(-window)

	var num, denom float64
	anyVolume := false
	for i := range bars {
		ts := bars[i].Timestamp
		if !ts.After(start) || ts.After(cutoff) {
			continue
		}
		if bars[i].Volume > 0 {
			anyVolume = true
		}
		num += TypicalPrice(&bars[i]) * bars[i].Volume
		denom += bars[i].Volume
	}

	if !anyVolume || denom <= 0 {
		return 0, false
	}
	return num / denom, true
}
