package models

import (
	"fmt"
	"time"
)

// Bar represents a single OHLCV input bar. Bars are the source of truth
// for every derived field and are never mutated by the pipeline.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate validates a Bar
func (b *Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	if b.High < b.Low {
		return ErrInvalidBar
	}
	if b.Volume < 0 {
		return ErrInvalidVolume
	}
	return nil
}

// Date is a calendar date without a time-of-day component. It is the
// trading-day key: comparable, usable as a map key, and independent of
// any time zone once derived.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight of the date in the given location.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

// Weekday returns the day of week of the date.
func (d Date) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalJSON encodes the date as a "YYYY-MM-DD" string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a "YYYY-MM-DD" string.
func (d *Date) UnmarshalJSON(data []byte) error {
	t, err := time.Parse(`"2006-01-02"`, string(data))
	if err != nil {
		return fmt.Errorf("invalid date %s: %w", data, err)
	}
	*d = DateOf(t)
	return nil
}

// SessionMarkers are the session-boundary instants attached to a bar.
// All downstream stages consume these values instead of recomputing
// session alignment on their own.
type SessionMarkers struct {
	DtUTC      time.Time `json:"dt_utc"`
	DtLocal    time.Time `json:"dt_local"`
	TradingDay Date      `json:"trading_day"`

	OpenUTC      time.Time `json:"session_open_utc"`
	CloseUTC     time.Time `json:"session_close_utc"`
	WarmupEndUTC time.Time `json:"warmup_end_utc"`

	OpenLocal      time.Time `json:"session_open_local"`
	CloseLocal     time.Time `json:"session_close_local"`
	WarmupEndLocal time.Time `json:"warmup_end_local"`

	// Unresolved is set when the session open or close fell on an
	// ambiguous wall clock and the resolver is configured to treat
	// ambiguity as unresolved. Boundary instants are zero in that case
	// and the bar is excluded from session-relative aggregation.
	Unresolved bool `json:"unresolved,omitempty"`
}

// Validate checks the marker ordering invariant.
func (m *SessionMarkers) Validate() error {
	if m.Unresolved {
		return nil
	}
	if m.OpenUTC.After(m.WarmupEndUTC) || m.WarmupEndUTC.After(m.CloseUTC) {
		return ErrInvalidMarkers
	}
	return nil
}

// DailyAggregate holds the per-trading-day volatility aggregates. One
// record exists per trading day that had at least one pre-open bar.
// Pointer fields are nil while the value is not yet defined (fewer than
// the minimum smoothing observations).
type DailyAggregate struct {
	TradingDay   Date    `json:"trading_day"`
	PreopenHigh  float64 `json:"preopen_high"`
	PreopenLow   float64 `json:"preopen_low"`
	PreopenRange float64 `json:"preopen_range"`

	ATRBaseline *float64 `json:"atr_baseline,omitempty"`
	VolScoreRaw *float64 `json:"vol_score_raw,omitempty"`
	VolScore    *float64 `json:"vol_score,omitempty"`
	IsVolatile  *bool    `json:"is_volatile,omitempty"`
}

// BandValues is one finished set of fair-value and outer band levels.
type BandValues struct {
	FVLowAdj  float64 `json:"fv_low_adj"`
	FVMidAdj  float64 `json:"fv_mid_adj"`
	FVHighAdj float64 `json:"fv_high_adj"`
	FVHalfDn  float64 `json:"fv_half_dn"`
	FVHalfUp  float64 `json:"fv_half_up"`
	L1Dn      float64 `json:"l1_dn"`
	L1MidDn   float64 `json:"l1_mid_dn"`
	L1MidUp   float64 `json:"l1_mid_up"`
	L1Up      float64 `json:"l1_up"`
}

// DailyBand is the finished band for one trading day plus the one-step
// shifted band of the immediately preceding banded day.
type DailyBand struct {
	TradingDay Date `json:"trading_day"`
	BandValues
	Prev *BandValues `json:"prev,omitempty"`
}

// EnrichedBar is one output row: the input bar plus every derived field.
// Nil pointers carry the missing-value semantics of the pipeline:
// a day without pre-open data has no score, a day without an opening
// range has no band, and pre-warmup bars of the first banded day have
// no active band.
type EnrichedBar struct {
	Bar
	Markers *SessionMarkers `json:"markers,omitempty"`

	VolScore   *float64 `json:"vol_score,omitempty"`
	IsVolatile *bool    `json:"is_volatile,omitempty"`

	// Band and PrevBand are the current trading day's finished band and
	// its one-day-shifted predecessor. Active is the carry-forward
	// selection: Band once the bar's timestamp reaches warmup end,
	// PrevBand before that.
	Band     *BandValues `json:"band,omitempty"`
	PrevBand *BandValues `json:"band_prev,omitempty"`
	Active   *BandValues `json:"band_active,omitempty"`
}
