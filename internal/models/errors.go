package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBar       = errors.New("invalid bar (high < low)")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrInvalidMarkers   = errors.New("invalid session markers (open <= warmup_end <= close violated)")
)

// TimestampParseError reports a row whose timestamp could not be
// resolved to an instant. It is fatal: time alignment is foundational,
// so the whole pass aborts.
type TimestampParseError struct {
	Row   int
	Value string
	Err   error
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("row %d: cannot parse timestamp %q: %v", e.Row, e.Value, e.Err)
}

func (e *TimestampParseError) Unwrap() error {
	return e.Err
}

// MissingColumnError reports a required input field that is absent.
// It is detected before any computation starts.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("required column %q is missing", e.Column)
}
