package audio

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// Graph is the live mixing graph. Voices are grouped by the id of the chunk
// that scheduled them so a whole chunk can be cancelled at once. The graph
// clock advances only as frames are rendered.
type Graph struct {
	sampleRate int
	frameSize  int
	frameCh    chan []int16

	mu       sync.Mutex
	groups   map[uint64][]Voice
	position int64 // samples rendered so far
	gain     float64
	lastGain float64
	scratch  []float64
}

// NewGraph creates a graph rendering at sampleRate with the given master gain.
func NewGraph(sampleRate int, gain float64) *Graph {
	frameSize := sampleRate * int(FrameDuration/time.Millisecond) / 1000
	return &Graph{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		frameCh:    make(chan []int16, 100),
		groups:     make(map[uint64][]Voice),
		gain:       gain,
		lastGain:   gain,
		scratch:    make([]float64, frameSize),
	}
}

// SampleRate returns the graph's render rate.
func (g *Graph) SampleRate() int {
	return g.sampleRate
}

// Frames returns the channel of rendered interleaved stereo frames.
func (g *Graph) Frames() <-chan []int16 {
	return g.frameCh
}

// CurrentTime is the graph clock in seconds: the start of the next frame.
func (g *Graph) CurrentTime() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.position) / float64(g.sampleRate)
}

// Schedule adds voices under id.
func (g *Graph) Schedule(id uint64, voices []Voice) {
	g.mu.Lock()
	g.groups[id] = append(g.groups[id], voices...)
	g.mu.Unlock()
}

// Cancel silences every voice of id immediately, whatever its stop time.
func (g *Graph) Cancel(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.groups[id]
	delete(g.groups, id)
	return ok
}

// CancelAll silences everything and returns the number of groups removed.
func (g *Graph) CancelAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.groups)
	clear(g.groups)
	return n
}

// ActiveVoices returns the number of voices still held by the graph.
func (g *Graph) ActiveVoices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, vs := range g.groups {
		n += len(vs)
	}
	return n
}

// SetGain changes the master gain. The change is ramped over the next frame.
func (g *Graph) SetGain(v float64) {
	g.mu.Lock()
	g.gain = v
	g.mu.Unlock()
}

// Gain returns the master gain.
func (g *Graph) Gain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

// Mix adds the unscaled mono mix of all voices for len(dst) samples starting
// at sample position from. It does not move the clock.
func (g *Graph) Mix(dst []float64, from int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mixLocked(dst, from)
}

func (g *Graph) mixLocked(dst []float64, from int64) {
	sr := float64(g.sampleRate)
	t0 := float64(from) / sr
	t1 := float64(from+int64(len(dst))) / sr
	for _, vs := range g.groups {
		for _, v := range vs {
			if v.Stop <= t0 || v.Start >= t1 {
				continue
			}
			w := 2 * math.Pi * v.FrequencyHz
			for i := range dst {
				t := float64(from+int64(i)) / sr
				if !v.Active(t) {
					continue
				}
				dst[i] += v.Gain.At(t) * math.Sin(w*t)
			}
		}
	}
}

// NextFrame renders one frame of interleaved stereo, advances the clock and
// drops voices that have finished.
func (g *Graph) NextFrame() []int16 {
	g.mu.Lock()
	defer g.mu.Unlock()

	mix := g.scratch
	clear(mix)
	g.mixLocked(mix, g.position)

	frame := make([]int16, len(mix)*Channels)
	for i, s := range mix {
		v := FloatToInt16(s * rampGain(g.lastGain, g.gain, i, len(mix)))
		frame[i*2] = v
		frame[i*2+1] = v
	}
	g.lastGain = g.gain
	g.position += int64(len(mix))

	now := float64(g.position) / float64(g.sampleRate)
	for id, vs := range g.groups {
		kept := vs[:0]
		for _, v := range vs {
			if v.Stop > now {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(g.groups, id)
		} else {
			g.groups[id] = kept
		}
	}
	return frame
}

// Run renders frames at real-time rate. Blocks until ctx is cancelled.
func (g *Graph) Run(ctx context.Context) {
	defer close(g.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	log.Printf("Audio graph running at %d Hz", g.sampleRate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := g.NextFrame()
		select {
		case g.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}
