package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarValidate(t *testing.T) {
	valid := Bar{
		Timestamp: time.Date(2023, 8, 14, 10, 0, 0, 0, time.UTC),
		Open:      100, High: 105, Low: 99, Close: 102, Volume: 10,
	}
	assert.NoError(t, valid.Validate())

	zeroTS := valid
	zeroTS.Timestamp = time.Time{}
	assert.ErrorIs(t, zeroTS.Validate(), ErrInvalidTimestamp)

	inverted := valid
	inverted.High, inverted.Low = 99, 105
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidBar)

	negVol := valid
	negVol.Volume = -1
	assert.ErrorIs(t, negVol.Validate(), ErrInvalidVolume)
}

func TestDateOf_UsesInstantLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2023-08-15 01:00 UTC is still 2023-08-14 in New York
	instant := time.Date(2023, 8, 15, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, Date{2023, time.August, 15}, DateOf(instant))
	assert.Equal(t, Date{2023, time.August, 14}, DateOf(instant.In(ny)))
}

func TestDateArithmetic(t *testing.T) {
	d := Date{2023, time.September, 30} // a Saturday
	assert.Equal(t, time.Saturday, d.Weekday())

	// AddDays crosses the month boundary
	assert.Equal(t, Date{2023, time.October, 2}, d.AddDays(2))
	assert.Equal(t, Date{2023, time.September, 29}, d.AddDays(-1))

	assert.True(t, d.Before(Date{2023, time.October, 1}))
	assert.True(t, Date{2022, time.December, 31}.Before(d))
	assert.False(t, d.Before(d))

	assert.Equal(t, "2023-09-30", d.String())
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := Date{2023, time.March, 5}
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2023-03-05"`, string(raw))

	var back Date
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)

	assert.Error(t, json.Unmarshal([]byte(`"05.03.2023"`), &back))
}

func TestSessionMarkersValidate(t *testing.T) {
	open := time.Date(2023, 8, 14, 13, 30, 0, 0, time.UTC)
	m := SessionMarkers{
		OpenUTC:      open,
		WarmupEndUTC: open.Add(30 * time.Minute),
		CloseUTC:     open.Add(6*time.Hour + 30*time.Minute),
	}
	assert.NoError(t, m.Validate())

	bad := m
	bad.WarmupEndUTC = open.Add(-time.Minute)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidMarkers)

	// Unresolved markers carry zero instants and still validate
	unresolved := SessionMarkers{Unresolved: true}
	assert.NoError(t, unresolved.Validate())
}

func TestEnrichedBarJSON_OmitsMissingValues(t *testing.T) {
	row := EnrichedBar{
		Bar: Bar{
			Timestamp: time.Date(2023, 8, 14, 10, 0, 0, 0, time.UTC),
			Open:      100, High: 105, Low: 99, Close: 102, Volume: 10,
		},
	}
	raw, err := json.Marshal(row)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"vol_score", "is_volatile", "band", "band_prev", "band_active", "markers"} {
		assert.NotContains(t, decoded, key)
	}

	score := 1.25
	row.VolScore = &score
	raw, err = json.Marshal(row)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 1.25, decoded["vol_score"])
}

func TestTimestampParseErrorUnwrap(t *testing.T) {
	inner := ErrInvalidTimestamp
	err := &TimestampParseError{Row: 3, Value: "garbage", Err: inner}
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
	assert.Contains(t, err.Error(), "garbage")
	assert.Contains(t, err.Error(), "3")
}
