// Package synth builds the modulated harmonic complex. A Chunk is the single
// source of the stimulus formulas; the live scheduler and the offline renderer
// both consume it.
package synth

import "math"

const (
	// ChunkDuration is the length of one randomized harmonic complex, in seconds.
	ChunkDuration = 4.0

	MinFundamentalHz = 96.0
	MaxFundamentalHz = 256.0

	// Partials are kept inside this audible window.
	LowCutHz  = 1000.0
	HighCutHz = 16000.0

	// ControlInterval is the spacing of gain breakpoints handed to the live graph.
	ControlInterval = 0.05
)

// Modulation constants.
const (
	Depth         = 1.0   // d
	TemporalRate  = 1.0   // ω, Hz
	SpectralMean  = 4.5   // μ
	SpectralRange = 3.0   // r
	SpectralDrift = 0.125 // ν, Hz; one spectral-rate cycle every 8 s
)

// SpectralRate is S(t) = μ + r·sin(p + 2πνt).
func SpectralRate(t, p float64) float64 {
	return SpectralMean + SpectralRange*math.Sin(p+2*math.Pi*SpectralDrift*t)
}

// Envelope is A_n(t) = 1 + d·sin(2π[ωt + Fn·S(t)] + q) for a partial that is
// octaves away from the band center. t is absolute session time.
func Envelope(t, octaves, q, p float64) float64 {
	return 1 + Depth*math.Sin(2*math.Pi*(TemporalRate*t+octaves*SpectralRate(t, p))+q)
}

// HarmonicRange returns the lowest and highest harmonic numbers of f0 that
// fall inside [LowCutHz, HighCutHz]. max < min means no partial fits.
func HarmonicRange(fundamentalHz float64) (lo, hi int) {
	lo = int(math.Ceil(LowCutHz / fundamentalHz))
	hi = int(math.Floor(HighCutHz / fundamentalHz))
	return lo, hi
}
