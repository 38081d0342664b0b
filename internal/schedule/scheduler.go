package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/tinnitone/internal/audio"
	"github.com/satindergrewal/tinnitone/internal/synth"
	"github.com/satindergrewal/tinnitone/internal/telemetry"
	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// ErrPlaying is returned when Start is called on a running scheduler.
var ErrPlaying = errors.New("scheduler already playing")

// Output is the live graph the scheduler writes chunks into.
type Output interface {
	SampleRate() int
	CurrentTime() float64
	Schedule(id uint64, voices []audio.Voice)
	Cancel(id uint64) bool
}

// Config holds look-ahead scheduling parameters.
type Config struct {
	LookAhead       time.Duration // how far past the graph clock chunks must be queued
	PollInterval    time.Duration // tick period of Run
	ChunkDuration   float64       // seconds
	ControlInterval float64       // seconds between gain breakpoints
	SampleAccurate  bool          // evaluate envelopes per sample instead of stepping
}

// DefaultConfig returns 100ms look-ahead, 50ms polling and 4s chunks.
func DefaultConfig() Config {
	return Config{
		LookAhead:       100 * time.Millisecond,
		PollInterval:    50 * time.Millisecond,
		ChunkDuration:   synth.ChunkDuration,
		ControlInterval: synth.ControlInterval,
	}
}

// Status is the current state of the scheduler.
type Status struct {
	State           State   `json:"state"`
	NextChunkStart  float64 `json:"next_chunk_start"`
	InFlight        int     `json:"in_flight"`
	ChunksScheduled uint64  `json:"chunks_scheduled"`
	Seed            uint64  `json:"seed"`
}

// ChunkFunc observes every chunk after it has been queued.
type ChunkFunc func(c synth.Chunk)

// Scheduler keeps a bounded window of chunks queued ahead of the graph clock.
// All work happens in Tick; Run is the control loop that calls it.
type Scheduler struct {
	out     Output
	src     *synth.Source
	cfg     Config
	metrics *telemetry.Metrics
	chunkFn ChunkFunc

	mu        sync.Mutex
	state     State
	profile   therapy.Profile
	band      therapy.Band
	next      float64 // start of the next chunk, graph seconds
	lastID    uint64
	scheduled uint64
	inFlight  map[uint64]float64 // chunk id -> stop time
}

// New creates a scheduler. out may be nil, in which case Start reports
// therapy.ErrAudioBackendUnavailable.
func New(out Output, src *synth.Source, cfg Config) *Scheduler {
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = synth.ChunkDuration
	}
	if cfg.ControlInterval <= 0 {
		cfg.ControlInterval = synth.ControlInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Scheduler{
		out:      out,
		src:      src,
		cfg:      cfg,
		inFlight: make(map[uint64]float64),
	}
}

// SetMetrics attaches instruments. Pass nil to disable.
func (s *Scheduler) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// SetChunkFunc sets an observer called for every queued chunk.
func (s *Scheduler) SetChunkFunc(fn ChunkFunc) {
	s.mu.Lock()
	s.chunkFn = fn
	s.mu.Unlock()
}

// Config returns the scheduling parameters.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// State returns Idle or Playing.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:           s.state,
		NextChunkStart:  s.next,
		InFlight:        len(s.inFlight),
		ChunksScheduled: s.scheduled,
		Seed:            s.src.Seed(),
	}
}

// Start validates the profile and begins queuing chunks from the current
// graph time. Nothing is queued until the next Tick.
func (s *Scheduler) Start(p therapy.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	band, err := p.Band()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return fmt.Errorf("%w: no live output graph", therapy.ErrAudioBackendUnavailable)
	}
	if s.state == Playing {
		return ErrPlaying
	}

	s.profile = p
	s.band = band
	s.next = s.out.CurrentTime()
	s.state = Playing
	log.Printf("Scheduler started: %.0f Hz (band %.0f-%.0f Hz), %s hearing", band.CenterHz, band.LowerHz, band.UpperHz, p.Severity)
	return nil
}

// Stop returns to Idle and silences every in-flight chunk right away.
// Returns the number of chunks cancelled.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		return 0
	}
	s.state = Idle

	n := 0
	for id := range s.inFlight {
		if s.out.Cancel(id) {
			n++
		}
	}
	clear(s.inFlight)
	s.metrics.ChunksCancelled(context.Background(), n)
	log.Printf("Scheduler stopped (%d chunks cancelled)", n)
	return n
}

// Tick performs one look-ahead check: while the next chunk would start
// inside the look-ahead window, it is synthesized and queued. Returns the
// number of chunks queued.
func (s *Scheduler) Tick() int {
	return s.TickUntil(math.Inf(1))
}

// TickUntil is Tick with a hard bound: no chunk starting at or after end is
// queued, however far the look-ahead window reaches.
func (s *Scheduler) TickUntil(end float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing {
		return 0
	}

	now := s.out.CurrentTime()
	for id, stop := range s.inFlight {
		if stop <= now {
			delete(s.inFlight, id)
		}
	}

	if late := now - s.next; late > 0 {
		log.Printf("Scheduler behind by %.0fms", late*1000)
	}

	horizon := min(now+s.cfg.LookAhead.Seconds(), end)
	queued := 0
	for s.next < horizon {
		s.enqueueLocked(s.next)
		s.next += s.cfg.ChunkDuration
		queued++
	}
	return queued
}

func (s *Scheduler) enqueueLocked(start float64) {
	s.lastID++
	chunk := synth.NewChunk(s.lastID, start, s.cfg.ChunkDuration, s.src.Next(), s.band, s.profile.Severity)

	s.out.Schedule(chunk.ID, Voices(chunk, s.out.SampleRate(), s.cfg))
	s.inFlight[chunk.ID] = chunk.End()
	s.scheduled++
	s.metrics.ChunkScheduled(context.Background())

	if s.chunkFn != nil {
		s.chunkFn(chunk)
	}
}

// Run ticks every poll interval until ctx is cancelled, then stops.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Preview queues a single chunk at the current graph time without entering
// Playing. Used for volume calibration.
func (s *Scheduler) Preview(p therapy.Profile) (synth.Chunk, error) {
	if err := p.Validate(); err != nil {
		return synth.Chunk{}, err
	}
	band, err := p.Band()
	if err != nil {
		return synth.Chunk{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return synth.Chunk{}, fmt.Errorf("%w: no live output graph", therapy.ErrAudioBackendUnavailable)
	}
	if s.state == Playing {
		return synth.Chunk{}, ErrPlaying
	}

	s.lastID++
	chunk := synth.NewChunk(s.lastID, s.out.CurrentTime(), s.cfg.ChunkDuration, s.src.Next(), band, p.Severity)
	s.out.Schedule(chunk.ID, Voices(chunk, s.out.SampleRate(), s.cfg))
	return chunk, nil
}

// Voices converts a chunk into graph voices. Unmodulated partials get a
// constant gain; modulated ones step through control-rate breakpoints, or
// follow the envelope per sample when cfg.SampleAccurate is set.
func Voices(c synth.Chunk, sampleRate int, cfg Config) []audio.Voice {
	voices := make([]audio.Voice, 0, len(c.Harmonics))
	for _, h := range c.Harmonics {
		v := audio.Voice{FrequencyHz: h.FrequencyHz, Start: c.Start, Stop: c.End()}
		switch {
		case !h.IsModulated():
			v.Gain = audio.ConstantGain(h.BaseGain)
		case cfg.SampleAccurate:
			v.Gain = audio.GainFunc(func(t float64) float64 { return c.Amplitude(h, t) })
		default:
			values, step := c.StepGain(h, sampleRate, cfg.ControlInterval)
			v.Gain = audio.StepGain{Start: c.Start, Step: step, Values: values}
		}
		voices = append(voices, v)
	}
	return voices
}
