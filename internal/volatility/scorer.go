package volatility

import (
	"fmt"
	"sort"

	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/pkg/indicator"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

// epsilon guards the score division when the baseline is zero, keeping
// scores finite rather than raising.
const epsilon = 1e-12

// minObservations is the number of observed days required before the
// smoothed baseline emits a value.
const minObservations = 3

// Smoothing selects the baseline smoothing method.
type Smoothing int

const (
	SmoothingSimple Smoothing = iota
	SmoothingExponential
)

// ParseSmoothing parses a smoothing method name.
func ParseSmoothing(s string) (Smoothing, error) {
	switch s {
	case "simple", "sma":
		return SmoothingSimple, nil
	case "exponential", "ema":
		return SmoothingExponential, nil
	default:
		return 0, fmt.Errorf("unknown smoothing method %q", s)
	}
}

func (s Smoothing) String() string {
	switch s {
	case SmoothingSimple:
		return "simple"
	case SmoothingExponential:
		return "exponential"
	default:
		return fmt.Sprintf("smoothing(%d)", int(s))
	}
}

// Config holds volatility scoring parameters.
type Config struct {
	Lookback  int
	Smoothing Smoothing
	Threshold float64
	ClipLo    float64
	ClipHi    float64
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		Lookback:  14,
		Smoothing: SmoothingSimple,
		Threshold: 1.20,
		ClipLo:    0.7,
		ClipHi:    1.3,
	}
}

// Scorer derives a per-trading-day volatility regime from the pre-open
// price range, normalized by an ATR-style smoothed baseline of the same
// range over a trailing window of days.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer and validates the configuration.
func NewScorer(cfg Config) (*Scorer, error) {
	if cfg.Lookback < minObservations {
		return nil, fmt.Errorf("lookback must be at least %d days, got %d", minObservations, cfg.Lookback)
	}
	if cfg.ClipLo > cfg.ClipHi {
		return nil, fmt.Errorf("clip bounds inverted: [%v, %v]", cfg.ClipLo, cfg.ClipHi)
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes one DailyAggregate per trading day that had at least
// one pre-open bar, in ascending trading-day order, plus a lookup by
// day for broadcasting. Days without pre-open data contribute nothing;
// early days (fewer than the minimum smoothing observations) carry a
// nil baseline and nil scores. Nothing here is an error: missing input
// is an expected edge case and propagates as missing values.
func (s *Scorer) Score(bars []models.Bar, markers []models.SessionMarkers) ([]*models.DailyAggregate, map[models.Date]*models.DailyAggregate) {
	byDay := make(map[models.Date]*models.DailyAggregate)

	for i := range bars {
		m := &markers[i]
		if m.Unresolved {
			continue
		}
		// Pre-open window: strictly before the session open.
		if !m.DtUTC.Before(m.OpenUTC) {
			continue
		}
		agg, ok := byDay[m.TradingDay]
		if !ok {
			agg = &models.DailyAggregate{
				TradingDay:  m.TradingDay,
				PreopenHigh: bars[i].High,
				PreopenLow:  bars[i].Low,
			}
			byDay[m.TradingDay] = agg
			continue
		}
		if bars[i].High > agg.PreopenHigh {
			agg.PreopenHigh = bars[i].High
		}
		if bars[i].Low < agg.PreopenLow {
			agg.PreopenLow = bars[i].Low
		}
	}

	daily := make([]*models.DailyAggregate, 0, len(byDay))
	for _, agg := range byDay {
		agg.PreopenRange = agg.PreopenHigh - agg.PreopenLow
		daily = append(daily, agg)
	}
	sort.Slice(daily, func(i, j int) bool {
		return daily[i].TradingDay.Before(daily[j].TradingDay)
	})

	s.smooth(daily)

	logger.Debug("volatility scoring complete",
		logger.Int("days", len(daily)),
		logger.Stringer("smoothing", s.cfg.Smoothing),
	)
	return daily, byDay
}

// smooth fills the baseline and score fields over the ordered daily
// table. The smoothing window trails over observed days only and
// includes the current day.
func (s *Scorer) smooth(daily []*models.DailyAggregate) {
	var calc indicator.Calculator
	var err error
	switch s.cfg.Smoothing {
	case SmoothingExponential:
		calc, err = indicator.NewEMA(s.cfg.Lookback, minObservations)
	default:
		calc, err = indicator.NewSMA(s.cfg.Lookback, minObservations)
	}
	if err != nil {
		// Config is validated at construction; this cannot happen.
		logger.Error("failed to build baseline calculator", logger.ErrorField(err))
		return
	}

	for _, agg := range daily {
		baseline, ok := calc.Update(agg.PreopenRange)
		if !ok {
			continue
		}
		raw := agg.PreopenRange / (baseline + epsilon)
		score := clip(raw, s.cfg.ClipLo, s.cfg.ClipHi)
		volatile := raw >= s.cfg.Threshold

		agg.ATRBaseline = ptr(baseline)
		agg.VolScoreRaw = ptr(raw)
		agg.VolScore = ptr(score)
		agg.IsVolatile = ptr(volatile)
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ptr[T any](v T) *T {
	return &v
}
