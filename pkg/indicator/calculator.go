package indicator

// Calculator is the interface for smoothing calculators that consume an
// ordered series of samples, one value per observation (here: one per
// trading day).
type Calculator interface {
	// Name returns the unique name of this calculator (e.g., "sma_14")
	Name() string

	// Update processes a new sample and returns the new smoothed value.
	// ok is false while the calculator has not yet seen its minimum
	// number of observations.
	Update(sample float64) (value float64, ok bool)

	// Value returns the current smoothed value.
	// ok is false if not enough samples have been processed.
	Value() (value float64, ok bool)

	// Reset clears the calculator state
	Reset()

	// IsReady returns true if the calculator has enough data to produce
	// a valid value
	IsReady() bool
}
