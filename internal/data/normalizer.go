package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
)

var (
	// ErrInvalidMessage is returned when the message cannot be parsed
	ErrInvalidMessage = errors.New("invalid message")
)

// strictLayout matches the primary feed format, e.g.
// "16.08.2023 00:00:00.000" (day.month.year, fractional seconds).
const strictLayout = "02.01.2006 15:04:05.000"

// fallbackLayouts are tried, in order, for rows the strict layout
// rejects. All are interpreted as UTC.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp resolves a raw timestamp string to a UTC instant.
// The strict feed layout is tried first, then the fallback layouts.
func ParseTimestamp(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(strictLayout, value, time.UTC); err == nil {
		return t, nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("no known layout matches %q", value)
}

// timestampKeys are the accepted names for the timestamp column, in
// lookup order.
var timestampKeys = []string{"Gmt time", "timestamp", "time", "datetime"}

// Normalizer converts raw bar records to the canonical Bar model
type Normalizer interface {
	// Normalize converts a raw JSON record to a Bar
	Normalize(rawMessage []byte) (*models.Bar, error)
}

// DefaultNormalizer handles JSON bar records with flexible field
// naming, the way different exporters label OHLCV columns.
type DefaultNormalizer struct{}

// NewNormalizer creates a new normalizer
func NewNormalizer() Normalizer {
	return &DefaultNormalizer{}
}

// Normalize converts a raw JSON record to a Bar. An unparseable
// timestamp yields a TimestampParseError; an absent required field
// yields a MissingColumnError. Both are fatal to the enclosing pass.
func (n *DefaultNormalizer) Normalize(rawMessage []byte) (*models.Bar, error) {
	var record map[string]interface{}
	if err := json.Unmarshal(rawMessage, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return n.fromRecord(record)
}

func (n *DefaultNormalizer) fromRecord(record map[string]interface{}) (*models.Bar, error) {
	ts, err := extractTimestamp(record)
	if err != nil {
		return nil, err
	}

	bar := &models.Bar{Timestamp: ts}

	high, err := requiredNumber(record, "High", "high")
	if err != nil {
		return nil, err
	}
	low, err := requiredNumber(record, "Low", "low")
	if err != nil {
		return nil, err
	}
	cls, err := requiredNumber(record, "Close", "close")
	if err != nil {
		return nil, err
	}
	vol, err := requiredNumber(record, "Volume", "volume")
	if err != nil {
		return nil, err
	}
	bar.High, bar.Low, bar.Close, bar.Volume = high, low, cls, vol

	// Open is carried through when present but is not required by any
	// derived feature.
	if open, ok := optionalNumber(record, "Open", "open"); ok {
		bar.Open = open
	} else {
		bar.Open = cls
	}

	if err := bar.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return bar, nil
}

func extractTimestamp(record map[string]interface{}) (time.Time, error) {
	for _, key := range timestampKeys {
		raw, ok := record[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return time.Time{}, &models.TimestampParseError{
				Value: fmt.Sprintf("%v", raw),
				Err:   errors.New("timestamp is not a string"),
			}
		}
		t, err := ParseTimestamp(s)
		if err != nil {
			return time.Time{}, &models.TimestampParseError{Value: s, Err: err}
		}
		return t, nil
	}
	return time.Time{}, &models.MissingColumnError{Column: timestampKeys[0]}
}

func requiredNumber(record map[string]interface{}, keys ...string) (float64, error) {
	if v, ok := optionalNumber(record, keys...); ok {
		return v, nil
	}
	return 0, &models.MissingColumnError{Column: keys[0]}
}

func optionalNumber(record map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := record[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
