package indicator

import (
	"fmt"
	"math"
)

// EMA calculates an exponential moving average with smoothing factor
// alpha = 2 / (window + 1). The recursion seeds from the first sample
// and runs from the start of the series, but no value is reported until
// `minPeriods` samples have been seen.
type EMA struct {
	window     int
	minPeriods int
	name       string
	alpha      float64
	value      float64
	processed  int
}

// NewEMA creates a new EMA calculator.
func NewEMA(window, minPeriods int) (*EMA, error) {
	if window < 1 {
		return nil, fmt.Errorf("EMA window must be at least 1, got %d", window)
	}
	if minPeriods < 1 {
		return nil, fmt.Errorf("EMA minPeriods must be at least 1, got %d", minPeriods)
	}

	return &EMA{
		window:     window,
		minPeriods: minPeriods,
		name:       fmt.Sprintf("ema_%d", window),
		alpha:      2.0 / float64(window+1),
	}, nil
}

// Name returns the calculator name
func (e *EMA) Name() string {
	return e.name
}

// Update processes a new sample and returns the updated average.
func (e *EMA) Update(sample float64) (float64, bool) {
	if e.processed == 0 {
		e.value = sample
	} else {
		e.value = (sample-e.value)*e.alpha + e.value
	}
	e.processed++

	if math.IsNaN(e.value) || math.IsInf(e.value, 0) {
		e.value = sample
	}

	return e.Value()
}

// Value returns the current average.
func (e *EMA) Value() (float64, bool) {
	if e.processed < e.minPeriods {
		return 0, false
	}
	return e.value, true
}

// Reset clears the EMA state
func (e *EMA) Reset() {
	e.value = 0
	e.processed = 0
}

// IsReady returns true if enough samples have been processed
func (e *EMA) IsReady() bool {
	return e.processed >= e.minPeriods
}

// SamplesProcessed returns the number of samples processed
func (e *EMA) SamplesProcessed() int {
	return e.processed
}
