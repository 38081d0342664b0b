package synth

import (
	"math"

	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// Harmonic is one partial of a chunk.
type Harmonic struct {
	Index       int     `json:"n"`
	FrequencyHz float64 `json:"frequency_hz"`
	InBand      bool    `json:"in_band"`
	BaseGain    float64 `json:"base_gain"`
	Octaves     float64 `json:"octaves"` // F_n, distance from the band center
}

// IsModulated reports whether the partial carries the decorrelating envelope.
func (h Harmonic) IsModulated() bool {
	return h.InBand
}

// Chunk is an immutable, fully described slice of the stimulus.
type Chunk struct {
	ID        uint64
	Start     float64 // seconds, absolute
	Duration  float64 // seconds
	Params    Params
	Harmonics []Harmonic
}

// NewChunk lays out the harmonics of params.FundamentalHz for the given band
// and hearing severity. A fundamental with no partial inside the audible
// window yields a chunk with no harmonics, which renders as silence.
func NewChunk(id uint64, start, duration float64, params Params, band therapy.Band, severity therapy.Severity) Chunk {
	c := Chunk{ID: id, Start: start, Duration: duration, Params: params}

	lo, hi := HarmonicRange(params.FundamentalHz)
	count := hi - lo + 1
	if count <= 0 {
		return c
	}

	c.Harmonics = make([]Harmonic, 0, count)
	for n := lo; n <= hi; n++ {
		freq := float64(n) * params.FundamentalHz
		hearingGain := math.Pow(10, therapy.CorrectionDB(freq, severity)/20)
		c.Harmonics = append(c.Harmonics, Harmonic{
			Index:       n,
			FrequencyHz: freq,
			InBand:      band.Contains(freq),
			BaseGain:    (0.5 / float64(count)) * hearingGain,
			Octaves:     band.Octaves(freq),
		})
	}
	return c
}

// End is the absolute stop time of the chunk.
func (c Chunk) End() float64 {
	return c.Start + c.Duration
}

// Amplitude is the gain of h at absolute time t.
func (c Chunk) Amplitude(h Harmonic, t float64) float64 {
	if !h.InBand {
		return h.BaseGain
	}
	return Envelope(t, h.Octaves, c.Params.Q, c.Params.P) * h.BaseGain
}

// Samples is the number of samples the chunk spans at sampleRate.
func (c Chunk) Samples(sampleRate int) int {
	return int(math.Round(c.Duration * float64(sampleRate)))
}

// Render adds the chunk's mono signal to dst. Sample i is taken at absolute
// time Start + i/sampleRate, so modulation stays continuous across chunks.
func (c Chunk) Render(dst []float64, sampleRate int) {
	sr := float64(sampleRate)
	for _, h := range c.Harmonics {
		w := 2 * math.Pi * h.FrequencyHz
		for i := range dst {
			t := c.Start + float64(i)/sr
			dst[i] += c.Amplitude(h, t) * math.Sin(w*t)
		}
	}
}

// StepGain samples the envelope of h every floor(sampleRate*interval) samples.
// The graph holds each value until the next breakpoint. step is the
// breakpoint spacing in seconds.
func (c Chunk) StepGain(h Harmonic, sampleRate int, interval float64) (values []float64, step float64) {
	sr := float64(sampleRate)
	every := int(math.Floor(sr * interval))
	if every < 1 {
		every = 1
	}
	total := c.Samples(sampleRate)
	values = make([]float64, 0, total/every+1)
	for i := 0; i < total; i += every {
		values = append(values, c.Amplitude(h, c.Start+float64(i)/sr))
	}
	return values, float64(every) / sr
}
