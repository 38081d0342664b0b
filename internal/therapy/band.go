package therapy

import (
	"fmt"
	"math"
)

// Band is the half-octave-each-side range around the tinnitus pitch in which
// partials are amplitude modulated.
type Band struct {
	LowerHz  float64 `json:"lower_hz"`
	CenterHz float64 `json:"center_hz"`
	UpperHz  float64 `json:"upper_hz"`
}

// NewBand derives the modulation band for a tinnitus frequency.
func NewBand(tinnitusHz float64) (Band, error) {
	if math.IsNaN(tinnitusHz) || math.IsInf(tinnitusHz, 0) || tinnitusHz <= 0 {
		return Band{}, fmt.Errorf("%w: tinnitus frequency must be a positive number, got %v", ErrConfiguration, tinnitusHz)
	}
	return Band{
		LowerHz:  tinnitusHz / math.Sqrt2,
		CenterHz: tinnitusHz,
		UpperHz:  tinnitusHz * math.Sqrt2,
	}, nil
}

// Contains reports whether f lies inside the band, edges included.
func (b Band) Contains(f float64) bool {
	return f >= b.LowerHz && f <= b.UpperHz
}

// Octaves is the signed distance of f from the band center in octaves.
func (b Band) Octaves(f float64) float64 {
	return math.Log2(f / b.CenterHz)
}
