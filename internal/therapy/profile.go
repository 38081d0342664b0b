package therapy

import (
	"fmt"
	"math"
	"slices"
)

// SupportedFrequencies is the set of tinnitus pitches a patient can match
// against, in Hz.
var SupportedFrequencies = []float64{1000, 2000, 4000, 5700, 8000, 9500, 11000, 13000}

// IsSupported reports whether f is one of SupportedFrequencies.
func IsSupported(f float64) bool {
	return slices.Contains(SupportedFrequencies, f)
}

// Profile is the per-session treatment configuration. It is created once by
// the session owner and never mutated while a session runs.
type Profile struct {
	TinnitusHz float64  `json:"tinnitus_hz" yaml:"tinnitus_hz"`
	Severity   Severity `json:"severity" yaml:"severity"`
	OutputGain float64  `json:"output_gain" yaml:"output_gain"`
}

// Validate checks the profile and returns an ErrConfiguration on failure.
func (p Profile) Validate() error {
	if _, err := NewBand(p.TinnitusHz); err != nil {
		return err
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("%w: invalid hearing severity %d", ErrConfiguration, int(p.Severity))
	}
	if math.IsNaN(p.OutputGain) || p.OutputGain < 0 || p.OutputGain > 1 {
		return fmt.Errorf("%w: output gain must be in [0,1], got %v", ErrConfiguration, p.OutputGain)
	}
	return nil
}

// Band returns the modulation band for the profile's tinnitus frequency.
func (p Profile) Band() (Band, error) {
	return NewBand(p.TinnitusHz)
}
