package data

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-features/internal/models"
)

func TestParseTimestamp_StrictLayout(t *testing.T) {
	ts, err := ParseTimestamp("16.08.2023 00:15:00.000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 8, 16, 0, 15, 0, 0, time.UTC), ts)
}

func TestParseTimestamp_Fallbacks(t *testing.T) {
	cases := map[string]time.Time{
		"2023-08-16T00:15:00Z":     time.Date(2023, 8, 16, 0, 15, 0, 0, time.UTC),
		"2023-08-16 00:15:00":      time.Date(2023, 8, 16, 0, 15, 0, 0, time.UTC),
		"2023-08-16":               time.Date(2023, 8, 16, 0, 0, 0, 0, time.UTC),
		"2023-08-16T02:15:00.500Z": time.Date(2023, 8, 16, 2, 15, 0, 500000000, time.UTC),
	}
	for raw, want := range cases {
		ts, err := ParseTimestamp(raw)
		require.NoError(t, err, raw)
		assert.True(t, ts.Equal(want), "parsed %s as %s, want %s", raw, ts, want)
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	_, err := ParseTimestamp("not a timestamp")
	assert.Error(t, err)
}

func TestNormalize_FullRecord(t *testing.T) {
	n := NewNormalizer()
	bar, err := n.Normalize([]byte(`{
		"Gmt time": "16.08.2023 09:31:00.000",
		"Open": 1.0901, "High": 1.0910, "Low": 1.0895,
		"Close": 1.0900, "Volume": 1250.5
	}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 8, 16, 9, 31, 0, 0, time.UTC), bar.Timestamp)
	assert.Equal(t, 1.0910, bar.High)
	assert.Equal(t, 1.0895, bar.Low)
	assert.Equal(t, 1.0900, bar.Close)
	assert.Equal(t, 1250.5, bar.Volume)
}

func TestNormalize_LowercaseKeysAndStringNumbers(t *testing.T) {
	n := NewNormalizer()
	bar, err := n.Normalize([]byte(`{
		"timestamp": "2023-08-16T09:31:00Z",
		"high": "2.0", "low": "1.0", "close": "1.5", "volume": "10"
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2.0, bar.High)
	assert.Equal(t, 10.0, bar.Volume)
	// Open defaults to close when absent
	assert.Equal(t, 1.5, bar.Open)
}

func TestNormalize_MissingColumn(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize([]byte(`{"High": 2, "Low": 1, "Close": 1.5, "Volume": 10}`))
	var missing *models.MissingColumnError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "Gmt time", missing.Column)

	_, err = n.Normalize([]byte(`{"Gmt time": "16.08.2023 09:31:00.000", "Low": 1, "Close": 1.5, "Volume": 10}`))
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "High", missing.Column)
}

func TestNormalize_BadTimestamp(t *testing.T) {
	n := NewNormalizer()
	_, err := n.Normalize([]byte(`{"Gmt time": "garbage", "High": 2, "Low": 1, "Close": 1.5, "Volume": 10}`))
	var parseErr *models.TimestampParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "garbage", parseErr.Value)
}

func TestNormalize_InvalidBar(t *testing.T) {
	n := NewNormalizer()
	// high < low fails validation
	_, err := n.Normalize([]byte(`{"Gmt time": "16.08.2023 09:31:00.000", "High": 1, "Low": 2, "Close": 1.5, "Volume": 10}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
