package synth

import (
	"math"
	"math/rand/v2"
)

// Params are the random draws that make one chunk unique.
type Params struct {
	FundamentalHz float64 `json:"fundamental_hz"`
	Q             float64 `json:"q"` // temporal modulation phase
	P             float64 `json:"p"` // spectral-rate phase
}

// Source draws chunk parameters from an explicitly seeded generator. Two
// sources with the same seed yield the same parameter sequence.
type Source struct {
	seed uint64
	rng  *rand.Rand
}

// NewSource creates a source seeded with seed.
func NewSource(seed uint64) *Source {
	return &Source{
		seed: seed,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Seed returns the seed the source was created with.
func (s *Source) Seed() uint64 {
	return s.seed
}

// Next draws the fundamental, then q, then p. Not safe for concurrent use.
func (s *Source) Next() Params {
	f0 := MinFundamentalHz + s.rng.Float64()*(MaxFundamentalHz-MinFundamentalHz)
	q := s.rng.Float64() * 2 * math.Pi
	p := s.rng.Float64() * 2 * math.Pi
	return Params{FundamentalHz: f0, Q: q, P: p}
}
