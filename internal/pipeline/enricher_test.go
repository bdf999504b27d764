package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-features/internal/levels"
	"github.com/mohamedkhairy/session-features/internal/models"
)

// testConfig keeps the session in UTC and disables the blend and vol
// scaling so band values are easy to compute by hand.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.Zone = "UTC"
	cfg.Levels.BlendVWAP = false
	cfg.Levels.VolScaleL1 = false
	cfg.Levels.ScaleMode = levels.ScaleNone
	return cfg
}

func utcBar(y int, mo time.Month, d, hh, mm int, high, low, close, vol float64) models.Bar {
	return models.Bar{
		Timestamp: time.Date(y, mo, d, hh, mm, 0, 0, time.UTC),
		High:      high, Low: low, Close: close, Volume: vol,
	}
}

// threeDays builds Mon-Wed 2023-08-14..16 with a pre-open bar, an
// opening-range bar and two session bars per day. Opening-range levels
// step up by 100 each day so the days are distinguishable.
func threeDays() []models.Bar {
	var bars []models.Bar
	for i := 0; i < 3; i++ {
		day := 14 + i
		base := 100.0 + float64(100*i)
		bars = append(bars,
			utcBar(2023, 8, day, 8, 0, base-5, base-15, base-10, 50), // pre-open
			utcBar(2023, 8, day, 9, 30, base+10, base, base+5, 100),  // opening range
			utcBar(2023, 8, day, 9, 59, base+11, base+1, base+6, 10), // still warmup
			utcBar(2023, 8, day, 10, 0, base+12, base+2, base+7, 80), // exactly warmup end
			utcBar(2023, 8, day, 13, 0, base+15, base+5, base+9, 60), // session
		)
	}
	return bars
}

func TestEnrich_ActiveBandSwitchesAtWarmupEnd(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	out, err := e.Enrich(threeDays())
	require.NoError(t, err)
	require.Len(t, out, 15)

	// Rows 5..9 are day 2 (2023-08-15)
	day2WarmupEnd := out[8] // 10:00 bar
	require.NotNil(t, day2WarmupEnd.Band)
	require.NotNil(t, day2WarmupEnd.Active)
	assert.Equal(t, day2WarmupEnd.Band.FVMidAdj, day2WarmupEnd.Active.FVMidAdj,
		"at warmup end the active band is the current day's")

	day2BeforeWarmup := out[7] // 09:59 bar
	require.NotNil(t, day2BeforeWarmup.Active)
	require.NotNil(t, day2BeforeWarmup.PrevBand)
	assert.Equal(t, day2BeforeWarmup.PrevBand.FVMidAdj, day2BeforeWarmup.Active.FVMidAdj,
		"before warmup end the active band is the previous day's")

	// And the previous band really is day 1's finished band
	day1Session := out[4]
	require.NotNil(t, day1Session.Band)
	assert.Equal(t, day1Session.Band.FVMidAdj, day2BeforeWarmup.Active.FVMidAdj)
}

func TestEnrich_FirstDayHasNoActiveBeforeWarmup(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	out, err := e.Enrich(threeDays())
	require.NoError(t, err)

	for _, row := range out[:3] { // day 1 bars before warmup end
		assert.Nil(t, row.Active, "bar %s", row.Timestamp)
		assert.Nil(t, row.PrevBand)
	}
	assert.NotNil(t, out[3].Active) // day 1 at warmup end
}

func TestEnrich_VolScoreBroadcast(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	out, err := e.Enrich(threeDays())
	require.NoError(t, err)

	// Days 1-2 cannot satisfy the 3-day smoothing minimum
	for _, row := range out[:10] {
		assert.Nil(t, row.VolScore, "bar %s", row.Timestamp)
	}
	// Every bar of day 3 carries the same score
	day3 := out[10:]
	require.NotNil(t, day3[0].VolScore)
	for _, row := range day3 {
		require.NotNil(t, row.VolScore, "bar %s", row.Timestamp)
		assert.Equal(t, *day3[0].VolScore, *row.VolScore)
		require.NotNil(t, row.IsVolatile)
	}
}

func TestEnrich_SortsUnsortedInput(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bars := threeDays()
	reversed := make([]models.Bar, len(bars))
	for i := range bars {
		reversed[len(bars)-1-i] = bars[i]
	}

	fromSorted, err := e.Enrich(bars)
	require.NoError(t, err)
	fromReversed, err := e.Enrich(reversed)
	require.NoError(t, err)

	assert.Equal(t, fromSorted, fromReversed)

	// Input slices are left untouched
	assert.True(t, reversed[0].Timestamp.After(reversed[len(reversed)-1].Timestamp))
}

func TestEnrich_Idempotent(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	first, err := e.Enrich(threeDays())
	require.NoError(t, err)

	// Re-run the pipeline on its own output bars
	again := make([]models.Bar, len(first))
	for i, row := range first {
		again[i] = row.Bar
	}
	second, err := e.Enrich(again)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEnrich_InvalidBarFails(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bars := []models.Bar{
		utcBar(2023, 8, 14, 10, 0, 90, 100, 95, 10), // high < low
	}
	_, err = e.Enrich(bars)
	assert.ErrorIs(t, err, models.ErrInvalidBar)
}

func TestDaily_ReturnsOrderedTables(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	daily, bands, err := e.Daily(threeDays())
	require.NoError(t, err)
	require.Len(t, daily, 3)
	require.Len(t, bands, 3)

	for i := 1; i < len(daily); i++ {
		assert.True(t, daily[i-1].TradingDay.Before(daily[i].TradingDay))
	}
	for i := 1; i < len(bands); i++ {
		assert.True(t, bands[i-1].TradingDay.Before(bands[i].TradingDay))
		require.NotNil(t, bands[i].Prev)
		assert.Equal(t, bands[i-1].BandValues, *bands[i].Prev)
	}
	assert.Nil(t, bands[0].Prev)
}
