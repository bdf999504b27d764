package levels

import (
	"fmt"
	"sort"
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/pkg/indicator"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

// Config holds level-building parameters.
type Config struct {
	// BlendVWAP enables pulling the fair-value midpoint toward a
	// trailing VWAP computed as of warmup end.
	BlendVWAP      bool
	VWAPBlendAlpha float64
	VWAPWindow     time.Duration

	// IBGapMultiplier scales the un-adjusted opening-range width into
	// the outer-band gap.
	IBGapMultiplier float64

	VolScaleFV bool
	VolScaleL1 bool
	ScaleMode  ScaleMode

	// Optional hard clamps on the outer-band gap.
	GapCapLo *float64
	GapCapHi *float64
}

// DefaultConfig returns the standard level-building parameters.
func DefaultConfig() Config {
	return Config{
		BlendVWAP:       true,
		VWAPBlendAlpha:  0.25,
		VWAPWindow:      24 * time.Hour,
		IBGapMultiplier: 1.0,
		VolScaleFV:      false,
		VolScaleL1:      true,
		ScaleMode:       ScaleUpOnly,
	}
}

// Builder computes the per-day fair-value and outer bands from the
// opening range and carries each finished band forward until the next
// day's warmup ends.
type Builder struct {
	cfg Config
}

// NewBuilder creates a builder and validates the configuration.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.VWAPBlendAlpha < 0 || cfg.VWAPBlendAlpha > 1 {
		return nil, fmt.Errorf("vwap blend alpha must be in [0, 1], got %v", cfg.VWAPBlendAlpha)
	}
	if cfg.IBGapMultiplier < 0 {
		return nil, fmt.Errorf("gap multiplier must not be negative, got %v", cfg.IBGapMultiplier)
	}
	if cfg.BlendVWAP && cfg.VWAPWindow <= 0 {
		return nil, fmt.Errorf("vwap window must be positive, got %v", cfg.VWAPWindow)
	}
	if cfg.GapCapLo != nil && cfg.GapCapHi != nil && *cfg.GapCapLo > *cfg.GapCapHi {
		return nil, fmt.Errorf("gap caps inverted: [%v, %v]", *cfg.GapCapLo, *cfg.GapCapHi)
	}
	return &Builder{cfg: cfg}, nil
}

// Build computes one DailyBand per trading day with a nonempty opening
// range, sorted ascending, with each band's Prev pointing at the
// previous finished band. Days whose opening-range window saw no bars
// are skipped entirely.
func (b *Builder) Build(bars []models.Bar, markers []models.SessionMarkers, scores map[models.Date]*models.DailyAggregate) []models.DailyBand {
	dayIdx := make(map[models.Date][]int)
	var days []models.Date
	for i := range markers {
		if markers[i].Unresolved {
			continue
		}
		d := markers[i].TradingDay
		if _, seen := dayIdx[d]; !seen {
			days = append(days, d)
		}
		dayIdx[d] = append(dayIdx[d], i)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	bands := make([]models.DailyBand, 0, len(days))
	for _, day := range days {
		band, ok := b.buildDay(day, dayIdx[day], bars, markers, scores[day])
		if !ok {
			logger.Debug("no opening-range bars, day skipped",
				logger.Stringer("trading_day", day),
			)
			continue
		}
		bands = append(bands, band)
	}

	// One-step shift over the finished per-day table.
	for i := 1; i < len(bands); i++ {
		bands[i].Prev = &bands[i-1].BandValues
	}
	return bands
}

// buildDay computes the band for a single trading day. ok is false when
// the opening-range window is empty.
func (b *Builder) buildDay(day models.Date, idx []int, bars []models.Bar, markers []models.SessionMarkers, agg *models.DailyAggregate) (models.DailyBand, bool) {
	open := markers[idx[0]].OpenUTC
	warmupEnd := markers[idx[0]].WarmupEndUTC

	// Opening range: [open, warmupEnd)
	var fvHigh, fvLow float64
	found := false
	dayBars := make([]models.Bar, 0, len(idx))
	for _, i := range idx {
		dayBars = append(dayBars, bars[i])
		ts := markers[i].DtUTC
		if ts.Before(open) || !ts.Before(warmupEnd) {
			continue
		}
		if !found {
			fvHigh, fvLow = bars[i].High, bars[i].Low
			found = true
			continue
		}
		if bars[i].High > fvHigh {
			fvHigh = bars[i].High
		}
		if bars[i].Low < fvLow {
			fvLow = bars[i].Low
		}
	}
	if !found {
		return models.DailyBand{}, false
	}

	fvMid := 0.5 * (fvHigh + fvLow)
	halfRange := 0.5 * (fvHigh - fvLow)

	var volScore *float64
	if agg != nil {
		volScore = agg.VolScore
	}

	if b.cfg.VolScaleFV && volScore != nil {
		halfRange *= *volScore
	}

	fvMidAdj := fvMid
	if b.cfg.BlendVWAP {
		if vwap, ok := indicator.TrailingVWAP(dayBars, warmupEnd, b.cfg.VWAPWindow); ok {
			alpha := b.cfg.VWAPBlendAlpha
			fvMidAdj = (1-alpha)*fvMid + alpha*vwap
		}
	}

	fvLowAdj := fvMidAdj - halfRange
	fvHighAdj := fvMidAdj + halfRange

	// The gap derives from the un-adjusted opening-range width, not the
	// blended or scaled one.
	gap := (fvHigh - fvLow) * b.cfg.IBGapMultiplier
	if b.cfg.VolScaleL1 && volScore != nil {
		switch b.cfg.ScaleMode {
		case ScaleUpOnly:
			if *volScore > 1 {
				gap *= *volScore
			}
		case ScaleBoth:
			gap *= *volScore
		case ScaleNone:
		}
	}
	if b.cfg.GapCapLo != nil && gap < *b.cfg.GapCapLo {
		gap = *b.cfg.GapCapLo
	}
	if b.cfg.GapCapHi != nil && gap > *b.cfg.GapCapHi {
		gap = *b.cfg.GapCapHi
	}

	l1Up := fvHighAdj + gap
	l1Dn := fvLowAdj - gap

	return models.DailyBand{
		TradingDay: day,
		BandValues: models.BandValues{
			FVLowAdj:  fvLowAdj,
			FVMidAdj:  fvMidAdj,
			FVHighAdj: fvHighAdj,
			FVHalfDn:  0.5 * (fvMidAdj + fvLowAdj),
			FVHalfUp:  0.5 * (fvMidAdj + fvHighAdj),
			L1Dn:      l1Dn,
			L1MidDn:   0.5 * (fvLowAdj + l1Dn),
			L1MidUp:   0.5 * (fvHighAdj + l1Up),
			L1Up:      l1Up,
		},
	}, true
}

// Selection is the per-bar band assignment produced by the
// carry-forward rule.
type Selection struct {
	Current *models.BandValues
	Prev    *models.BandValues
	Active  *models.BandValues
}

// Select applies the carry-forward rule to every bar: a bar uses its
// own day's band once its timestamp reaches the warmup end, and the
// previous finished band before that. Bars of a day with no band fall
// back to the most recent finished band for the whole day. Bars before
// the first finished band carry no active values.
func Select(markers []models.SessionMarkers, bands []models.DailyBand) []Selection {
	byDay := make(map[models.Date]*models.DailyBand, len(bands))
	bandDays := make([]models.Date, len(bands))
	for i := range bands {
		byDay[bands[i].TradingDay] = &bands[i]
		bandDays[i] = bands[i].TradingDay
	}

	out := make([]Selection, len(markers))
	for i := range markers {
		m := &markers[i]
		if m.Unresolved {
			continue
		}

		if band, ok := byDay[m.TradingDay]; ok {
			sel := Selection{Current: &band.BandValues, Prev: band.Prev}
			if !m.DtUTC.Before(m.WarmupEndUTC) {
				sel.Active = sel.Current
			} else {
				sel.Active = sel.Prev
			}
			out[i] = sel
			continue
		}

		// Skipped day: carry forward the most recent finished band.
		if prev := lastBandBefore(bands, bandDays, m.TradingDay); prev != nil {
			out[i] = Selection{Prev: prev, Active: prev}
		}
	}
	return out
}

// lastBandBefore returns the band of the greatest banded day strictly
// before d, or nil.
func lastBandBefore(bands []models.DailyBand, bandDays []models.Date, d models.Date) *models.BandValues {
	// First banded day >= d
	n := sort.Search(len(bandDays), func(i int) bool {
		return !bandDays[i].Before(d)
	})
	if n == 0 {
		return nil
	}
	return &bands[n-1].BandValues
}
