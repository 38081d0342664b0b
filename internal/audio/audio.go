package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// GainCurve gives a voice's linear gain at absolute graph time t.
type GainCurve interface {
	At(t float64) float64
}

// ConstantGain holds one gain for the whole voice.
type ConstantGain float64

func (g ConstantGain) At(float64) float64 { return float64(g) }

// StepGain holds Values[k] from Start+k*Step until the next breakpoint.
// Times before Start use the first value, times past the end the last one.
type StepGain struct {
	Start  float64
	Step   float64
	Values []float64
}

func (g StepGain) At(t float64) float64 {
	if len(g.Values) == 0 {
		return 0
	}
	idx := int((t - g.Start) / g.Step)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(g.Values) {
		idx = len(g.Values) - 1
	}
	return g.Values[idx]
}

// GainFunc evaluates the gain at every sample.
type GainFunc func(t float64) float64

func (f GainFunc) At(t float64) float64 { return f(t) }

// Voice is one sine partial scheduled on the graph. It sounds on
// [Start, Stop) and needs no further attention once scheduled.
type Voice struct {
	FrequencyHz float64
	Start       float64
	Stop        float64
	Gain        GainCurve
}

// Active reports whether the voice sounds at t.
func (v Voice) Active(t float64) bool {
	return t >= v.Start && t < v.Stop
}
