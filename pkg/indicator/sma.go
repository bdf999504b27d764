package indicator

import "fmt"

// SMA calculates a trailing simple moving average over at most `window`
// samples. A value is produced once `minPeriods` samples have been
// seen; before the window fills, the mean runs over the samples seen so
// far. This mirrors a rolling mean with a minimum-observation cutoff.
type SMA struct {
	window     int
	minPeriods int
	name       string
	values     []float64
	processed  int
}

// NewSMA creates a new SMA calculator.
func NewSMA(window, minPeriods int) (*SMA, error) {
	if window < 1 {
		return nil, fmt.Errorf("SMA window must be at least 1, got %d", window)
	}
	if minPeriods < 1 || minPeriods > window {
		return nil, fmt.Errorf("SMA minPeriods must be in [1, window], got %d", minPeriods)
	}

	return &SMA{
		window:     window,
		minPeriods: minPeriods,
		name:       fmt.Sprintf("sma_%d", window),
		values:     make([]float64, 0, window),
	}, nil
}

// Name returns the calculator name
func (s *SMA) Name() string {
	return s.name
}

// Update processes a new sample and returns the updated mean.
func (s *SMA) Update(sample float64) (float64, bool) {
	s.values = append(s.values, sample)
	if len(s.values) > s.window {
		s.values = s.values[1:]
	}
	s.processed++
	return s.Value()
}

// Value returns the current mean over the trailing window.
func (s *SMA) Value() (float64, bool) {
	if len(s.values) < s.minPeriods {
		return 0, false
	}
	var sum float64
	for _, v := range s.values {
		sum += v
	}
	return sum / float64(len(s.values)), true
}

// Reset clears the SMA state
func (s *SMA) Reset() {
	s.values = s.values[:0]
	s.processed = 0
}

// IsReady returns true if enough samples have been processed
func (s *SMA) IsReady() bool {
	return len(s.values) >= s.minPeriods
}

// SamplesProcessed returns the number of samples processed
func (s *SMA) SamplesProcessed() int {
	return s.processed
}
