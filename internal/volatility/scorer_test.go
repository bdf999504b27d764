package volatility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-features/internal/models"
)

// dayBars builds bars plus matching markers for one trading day with a
// 09:30-16:00 UTC session. Offsets are minutes relative to the open;
// negative offsets land in the pre-open window.
func dayBars(day models.Date, offsets []int, highs, lows []float64) ([]models.Bar, []models.SessionMarkers) {
	open := time.Date(day.Year, day.Month, day.Day, 9, 30, 0, 0, time.UTC)
	closeAt := time.Date(day.Year, day.Month, day.Day, 16, 0, 0, 0, time.UTC)
	warmupEnd := open.Add(30 * time.Minute)

	bars := make([]models.Bar, len(offsets))
	markers := make([]models.SessionMarkers, len(offsets))
	for i, off := range offsets {
		ts := open.Add(time.Duration(off) * time.Minute)
		bars[i] = models.Bar{
			Timestamp: ts,
			High:      highs[i],
			Low:       lows[i],
			Close:     (highs[i] + lows[i]) / 2,
			Volume:    100,
		}
		markers[i] = models.SessionMarkers{
			DtUTC:        ts,
			DtLocal:      ts,
			TradingDay:   day,
			OpenUTC:      open,
			CloseUTC:     closeAt,
			WarmupEndUTC: warmupEnd,
		}
	}
	return bars, markers
}

func date(y int, m time.Month, d int) models.Date {
	return models.Date{Year: y, Month: m, Day: d}
}

// appendDay accumulates several days of bars into one series.
func appendDay(bars []models.Bar, markers []models.SessionMarkers,
	day models.Date, offsets []int, highs, lows []float64) ([]models.Bar, []models.SessionMarkers) {
	b, m := dayBars(day, offsets, highs, lows)
	return append(bars, b...), append(markers, m...)
}

// rangeDays builds `n` consecutive days each with a single pre-open bar
// spanning the given range.
func rangeDays(t *testing.T, ranges []float64) ([]models.Bar, []models.SessionMarkers) {
	t.Helper()
	var bars []models.Bar
	var markers []models.SessionMarkers
	for i, r := range ranges {
		day := date(2023, time.August, 14+i)
		bars, markers = appendDay(bars, markers, day,
			[]int{-60}, []float64{100 + r}, []float64{100})
	}
	return bars, markers
}

func TestNewScorer_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookback = 2
	_, err := NewScorer(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ClipLo, cfg.ClipHi = 2.0, 1.0
	_, err = NewScorer(cfg)
	assert.Error(t, err)
}

func TestScore_PreopenExtrema(t *testing.T) {
	s, err := NewScorer(DefaultConfig())
	require.NoError(t, err)

	day := date(2023, time.August, 16)
	bars, markers := dayBars(day,
		[]int{-120, -60, 0, 30}, // last two are at/after the open
		[]float64{105, 110, 500, 500},
		[]float64{95, 98, 400, 400},
	)

	daily, byDay := s.Score(bars, markers)
	require.Len(t, daily, 1)
	agg := byDay[day]
	require.NotNil(t, agg)
	assert.Equal(t, 110.0, agg.PreopenHigh)
	assert.Equal(t, 95.0, agg.PreopenLow)
	assert.Equal(t, 15.0, agg.PreopenRange)
	// A single day cannot satisfy the minimum smoothing observations
	assert.Nil(t, agg.ATRBaseline)
	assert.Nil(t, agg.VolScore)
	assert.Nil(t, agg.IsVolatile)
}

func TestScore_MinimumThreeDays(t *testing.T) {
	s, err := NewScorer(DefaultConfig())
	require.NoError(t, err)

	bars, markers := rangeDays(t, []float64{10, 10, 10})
	daily, _ := s.Score(bars, markers)
	require.Len(t, daily, 3)

	assert.Nil(t, daily[0].VolScore)
	assert.Nil(t, daily[1].VolScore)

	require.NotNil(t, daily[2].ATRBaseline)
	assert.InDelta(t, 10.0, *daily[2].ATRBaseline, 1e-9)
	require.NotNil(t, daily[2].VolScore)
	assert.InDelta(t, 1.0, *daily[2].VolScore, 1e-9)
	require.NotNil(t, daily[2].IsVolatile)
	assert.False(t, *daily[2].IsVolatile)
}

func TestScore_ClipAndThreshold(t *testing.T) {
	cfg := DefaultConfig()
	s, err := NewScorer(cfg)
	require.NoError(t, err)

	bars, markers := rangeDays(t, []float64{1, 1, 1, 100})
	daily, _ := s.Score(bars, markers)
	require.Len(t, daily, 4)

	spike := daily[3]
	require.NotNil(t, spike.VolScoreRaw)
	// SMA over [1,1,1,100] = 25.75; raw = 100/25.75
	assert.InDelta(t, 100.0/25.75, *spike.VolScoreRaw, 1e-6)
	require.NotNil(t, spike.VolScore)
	assert.Equal(t, cfg.ClipHi, *spike.VolScore)
	require.NotNil(t, spike.IsVolatile)
	assert.True(t, *spike.IsVolatile)

	// Clipped score always lives inside the bounds
	for _, agg := range daily {
		if agg.VolScore != nil {
			assert.GreaterOrEqual(t, *agg.VolScore, cfg.ClipLo)
			assert.LessOrEqual(t, *agg.VolScore, cfg.ClipHi)
		}
	}
}

func TestScore_ExponentialSmoothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookback = 3
	cfg.Smoothing = SmoothingExponential
	ema, err := NewScorer(cfg)
	require.NoError(t, err)

	cfg2 := cfg
	cfg2.Smoothing = SmoothingSimple
	sma, err := NewScorer(cfg2)
	require.NoError(t, err)

	bars, markers := rangeDays(t, []float64{10, 20, 30})

	emaDaily, _ := ema.Score(bars, markers)
	smaDaily, _ := sma.Score(bars, markers)

	require.NotNil(t, emaDaily[2].ATRBaseline)
	require.NotNil(t, smaDaily[2].ATRBaseline)
	// alpha = 0.5: 10 -> 15 -> 22.5 ; SMA = 20
	assert.InDelta(t, 22.5, *emaDaily[2].ATRBaseline, 1e-9)
	assert.InDelta(t, 20.0, *smaDaily[2].ATRBaseline, 1e-9)
}

func TestScore_DayWithoutPreopenIsSkipped(t *testing.T) {
	s, err := NewScorer(DefaultConfig())
	require.NoError(t, err)

	day := date(2023, time.August, 16)
	// All bars at or after the open: no pre-open window
	bars, markers := dayBars(day, []int{0, 30, 60}, []float64{101, 102, 103}, []float64{99, 98, 97})

	daily, byDay := s.Score(bars, markers)
	assert.Empty(t, daily)
	assert.NotContains(t, byDay, day)
}

func TestScore_UnresolvedMarkersIgnored(t *testing.T) {
	s, err := NewScorer(DefaultConfig())
	require.NoError(t, err)

	day := date(2023, time.August, 16)
	bars, markers := dayBars(day, []int{-60}, []float64{110}, []float64{90})
	markers[0].Unresolved = true

	daily, _ := s.Score(bars, markers)
	assert.Empty(t, daily)
}

func TestParseSmoothing(t *testing.T) {
	m, err := ParseSmoothing("ema")
	require.NoError(t, err)
	assert.Equal(t, SmoothingExponential, m)

	m, err = ParseSmoothing("simple")
	require.NoError(t, err)
	assert.Equal(t, SmoothingSimple, m)

	_, err = ParseSmoothing("median")
	assert.Error(t, err)
}
