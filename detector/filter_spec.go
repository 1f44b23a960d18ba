package detector

import (
	"fmt"
)

const (
	// MinCutoffHz and MaxCutoffHz bound both filter cutoffs.
	MinCutoffHz = 20.0
	MaxCutoffHz = 10000.0
)

// ValidationError names the field and the constraint a value violated.
type ValidationError struct {
	Field      string
	Constraint string
	Value      any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Constraint)
}

// FilterSpec describes an inclusive band-pass window.
type FilterSpec struct {
	LowFreq  float64 `json:"low_freq"`
	HighFreq float64 `json:"high_freq"`
}

// NewFilterSpec validates the cutoffs. Out-of-range values are rejected, never clamped.
func NewFilterSpec(low, high float64) (FilterSpec, error) {
	spec := FilterSpec{LowFreq: low, HighFreq: high}
	if err := spec.Validate(); err != nil {
		return FilterSpec{}, err
	}
	return spec, nil
}

// Validate checks range and ordering of the cutoffs.
func (s FilterSpec) Validate() error {
	if !inCutoffRange(s.LowFreq) {
		return &ValidationError{
			Field:      "low_freq",
			Constraint: fmt.Sprintf("must be within [%.0f, %.0f]", MinCutoffHz, MaxCutoffHz),
			Value:      s.LowFreq,
		}
	}
	if !inCutoffRange(s.HighFreq) {
		return &ValidationError{
			Field:      "high_freq",
			Constraint: fmt.Sprintf("must be within [%.0f, %.0f]", MinCutoffHz, MaxCutoffHz),
			Value:      s.HighFreq,
		}
	}
	if s.HighFreq <= s.LowFreq {
		return &ValidationError{
			Field:      "high_freq",
			Constraint: "must be greater than low_freq",
			Value:      s.HighFreq,
		}
	}
	return nil
}

// Width is the passband width in Hz.
func (s FilterSpec) Width() float64 {
	return s.HighFreq - s.LowFreq
}

// Overlap returns the width of the intersection of [s.LowFreq, s.HighFreq] and [low, high].
func (s FilterSpec) Overlap(low, high float64) float64 {
	lo := max(s.LowFreq, low)
	hi := min(s.HighFreq, high)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func (s FilterSpec) String() string {
	return fmt.Sprintf("%.0f-%.0f Hz", s.LowFreq, s.HighFreq)
}

func inCutoffRange(f float64) bool {
	// NaN fails both comparisons
	return f >= MinCutoffHz && f <= MaxCutoffHz
}
