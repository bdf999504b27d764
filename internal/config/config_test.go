package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-features/internal/levels"
	"github.com/mohamedkhairy/session-features/internal/session"
	"github.com/mohamedkhairy/session-features/internal/volatility"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "session_features", cfg.Database.Database)
	assert.Equal(t, "localhost", cfg.Redis.Host)

	// Equities preset: New York cash session
	assert.Equal(t, "America/New_York", cfg.Session.Zone)
	assert.Equal(t, session.WallClock{Hour: 9, Minute: 30}, cfg.Session.OpenLocal)
	assert.Equal(t, session.WallClock{Hour: 16}, cfg.Session.CloseLocal)
	assert.Equal(t, 30*time.Minute, cfg.Session.Warmup)
	assert.True(t, cfg.Session.RollWeekends)

	assert.Equal(t, 14, cfg.Volatility.Lookback)
	assert.Equal(t, volatility.SmoothingSimple, cfg.Volatility.Smoothing)
	assert.Equal(t, 1.20, cfg.Volatility.Threshold)

	assert.True(t, cfg.Levels.BlendVWAP)
	assert.Equal(t, 0.25, cfg.Levels.VWAPBlendAlpha)
	assert.Equal(t, levels.ScaleUpOnly, cfg.Levels.ScaleMode)
	assert.Nil(t, cfg.Levels.GapCapLo)

	assert.Equal(t, "bars", cfg.Enricher.BarStream)
	assert.Equal(t, "bars.enriched", cfg.Enricher.EnrichedStream)
}

func TestLoad_FXPreset(t *testing.T) {
	t.Setenv("MARKET_PRESET", "fx")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Session.Zone)
	assert.Equal(t, session.WallClock{}, cfg.Session.OpenLocal)
	assert.Equal(t, session.WallClock{Hour: 23, Minute: 59}, cfg.Session.CloseLocal)
}

func TestLoad_UnknownPreset(t *testing.T) {
	t.Setenv("MARKET_PRESET", "crypto")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARKET_PRESET")
}

func TestLoad_SessionOverridesPreset(t *testing.T) {
	t.Setenv("MARKET_PRESET", "equities")
	t.Setenv("SESSION_ZONE", "Europe/London")
	t.Setenv("SESSION_OPEN", "08:00")
	t.Setenv("SESSION_CLOSE", "16:30")
	t.Setenv("SESSION_WARMUP", "1h")
	t.Setenv("SESSION_ROLL_WEEKENDS", "false")
	t.Setenv("SESSION_AMBIGUOUS", "unresolved")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Europe/London", cfg.Session.Zone)
	assert.Equal(t, session.WallClock{Hour: 8}, cfg.Session.OpenLocal)
	assert.Equal(t, session.WallClock{Hour: 16, Minute: 30}, cfg.Session.CloseLocal)
	assert.Equal(t, time.Hour, cfg.Session.Warmup)
	assert.False(t, cfg.Session.RollWeekends)
	assert.Equal(t, session.AmbiguousUnresolved, cfg.Session.Ambiguous)
}

func TestLoad_StageOverrides(t *testing.T) {
	t.Setenv("VOL_LOOKBACK", "20")
	t.Setenv("VOL_SMOOTHING", "ema")
	t.Setenv("VOL_THRESHOLD", "1.5")
	t.Setenv("LEVELS_SCALE_MODE", "both")
	t.Setenv("LEVELS_GAP_CAP_HI", "2.5")
	t.Setenv("LEVELS_BLEND_VWAP", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Volatility.Lookback)
	assert.Equal(t, volatility.SmoothingExponential, cfg.Volatility.Smoothing)
	assert.Equal(t, 1.5, cfg.Volatility.Threshold)
	assert.Equal(t, levels.ScaleBoth, cfg.Levels.ScaleMode)
	require.NotNil(t, cfg.Levels.GapCapHi)
	assert.Equal(t, 2.5, *cfg.Levels.GapCapHi)
	assert.False(t, cfg.Levels.BlendVWAP)
}

func TestLoad_InvalidEnumFails(t *testing.T) {
	t.Setenv("LEVELS_SCALE_MODE", "sideways")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEVELS_SCALE_MODE")
}

func TestLoad_InvalidWindowSize(t *testing.T) {
	t.Setenv("ENRICHER_WINDOW_SIZE", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENRICHER_WINDOW_SIZE")
}

func TestConfigPipeline(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	p := cfg.Pipeline()
	assert.Equal(t, cfg.Session, p.Session)
	assert.Equal(t, cfg.Volatility, p.Volatility)
	assert.Equal(t, cfg.Levels, p.Levels)
}
