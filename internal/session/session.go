// Package session owns the single treatment session of a running server: it
// drives the look-ahead scheduler, ends the session after its duration and
// serves the calibration tones used before a session starts.
package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/tinnitone/internal/audio"
	"github.com/satindergrewal/tinnitone/internal/schedule"
	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// DefaultDuration is the length of one treatment session.
const DefaultDuration = 60 * time.Minute

// toneIDBase keeps calibration tone ids clear of scheduler chunk ids.
const toneIDBase = uint64(1) << 63

// Output is the live graph a session plays into.
type Output interface {
	schedule.Output
	CancelAll() int
	SetGain(v float64)
	Gain() float64
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomePlaying   Outcome = "playing"
	OutcomeStopped   Outcome = "stopped"
	OutcomeCompleted Outcome = "completed"
)

// State describes one session. The profile is fixed for its lifetime.
type State struct {
	ID        string          `json:"id"`
	Profile   therapy.Profile `json:"profile"`
	Band      therapy.Band    `json:"band"`
	Start     float64         `json:"start"` // graph seconds
	Duration  time.Duration   `json:"duration"`
	StartedAt time.Time       `json:"started_at"`
	Outcome   Outcome         `json:"outcome"`
}

// End is the graph time at which the session completes.
func (s *State) End() float64 {
	return s.Start + s.Duration.Seconds()
}

// Status is a snapshot for clients.
type Status struct {
	State     schedule.State  `json:"state"`
	Session   *State          `json:"session,omitempty"`
	Last      *State          `json:"last,omitempty"`
	Elapsed   float64         `json:"elapsed"`   // seconds
	Remaining float64         `json:"remaining"` // seconds
	Progress  float64         `json:"progress"`  // percent
	Gain      float64         `json:"gain"`
	Scheduler schedule.Status `json:"scheduler"`
}

// Controller is the only writer of session state.
type Controller struct {
	out      Output
	sched    *schedule.Scheduler
	duration time.Duration

	mu     sync.Mutex
	cur    *State
	last   *State
	toneID uint64
}

// New creates a controller. duration <= 0 uses DefaultDuration.
func New(out Output, sched *schedule.Scheduler, duration time.Duration) *Controller {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Controller{out: out, sched: sched, duration: duration}
}

// Start begins a session for p. Only the supported tinnitus frequencies are
// accepted.
func (c *Controller) Start(p therapy.Profile) (State, error) {
	if !therapy.IsSupported(p.TinnitusHz) {
		return State{}, fmt.Errorf("%w: unsupported tinnitus frequency %v Hz", therapy.ErrConfiguration, p.TinnitusHz)
	}
	if err := p.Validate(); err != nil {
		return State{}, err
	}
	band, err := p.Band()
	if err != nil {
		return State{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return State{}, schedule.ErrPlaying
	}
	if n := c.out.CancelAll(); n > 0 {
		log.Printf("Cleared %d calibration sounds before session start", n)
	}
	if err := c.sched.Start(p); err != nil {
		return State{}, err
	}
	c.out.SetGain(p.OutputGain)

	c.cur = &State{
		ID:        uuid.NewString(),
		Profile:   p,
		Band:      band,
		Start:     c.out.CurrentTime(),
		Duration:  c.duration,
		StartedAt: time.Now(),
		Outcome:   OutcomePlaying,
	}
	log.Printf("Session %s started: %.0f Hz, %s hearing, %s", c.cur.ID, p.TinnitusHz, p.Severity, c.duration)
	return *c.cur, nil
}

// Stop ends the session early and silences everything on the graph,
// including preview chunks and test tones. Returns false when nothing was
// sounding.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ended := c.endLocked(OutcomeStopped)
	if n := c.out.CancelAll(); n > 0 {
		log.Printf("Silenced %d calibration sounds", n)
		return true
	}
	return ended
}

func (c *Controller) endLocked(o Outcome) bool {
	if c.cur == nil {
		return false
	}
	c.sched.Stop()
	c.out.CancelAll()
	c.cur.Outcome = o
	c.last = c.cur
	c.cur = nil
	log.Printf("Session %s %s", c.last.ID, o)
	return true
}

// Tick advances the session once: it completes a session whose time is up
// and otherwise lets the scheduler queue chunks. No chunk is queued to start
// at or past the session end.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return
	}
	if c.out.CurrentTime() >= c.cur.End() {
		c.endLocked(OutcomeCompleted)
		return
	}
	c.sched.TickUntil(c.cur.End())
}

// Run ticks at the scheduler's poll interval until ctx is cancelled, then
// stops any running session.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sched.Config().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// SetGain changes the master output gain, for volume calibration.
func (c *Controller) SetGain(g float64) error {
	if math.IsNaN(g) || g < 0 || g > 1 {
		return fmt.Errorf("%w: gain must be in [0,1], got %v", therapy.ErrConfiguration, g)
	}
	c.out.SetGain(g)
	return nil
}

// PlayTone plays a pure sine at freqHz for d, used to match the patient's
// tinnitus pitch. Refused while a session is playing.
func (c *Controller) PlayTone(freqHz float64, d time.Duration) error {
	nyquist := float64(c.out.SampleRate()) / 2
	if math.IsNaN(freqHz) || freqHz <= 0 || freqHz >= nyquist {
		return fmt.Errorf("%w: tone frequency must be in (0, %.0f) Hz, got %v", therapy.ErrConfiguration, nyquist, freqHz)
	}
	if d <= 0 || d > time.Minute {
		return fmt.Errorf("%w: tone duration must be in (0, 1m], got %s", therapy.ErrConfiguration, d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return schedule.ErrPlaying
	}
	now := c.out.CurrentTime()
	c.toneID++
	c.out.Schedule(toneIDBase|c.toneID, []audio.Voice{{
		FrequencyHz: freqHz,
		Start:       now,
		Stop:        now + d.Seconds(),
		Gain:        audio.ConstantGain(1),
	}})
	log.Printf("Test tone: %.0f Hz for %s", freqHz, d)
	return nil
}

// Preview plays one chunk of the stimulus for p without starting a session.
func (c *Controller) Preview(p therapy.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return schedule.ErrPlaying
	}
	if _, err := c.sched.Preview(p); err != nil {
		return err
	}
	c.out.SetGain(p.OutputGain)
	return nil
}

// Status returns the current session, if any, with its countdown.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:     schedule.Idle,
		Gain:      c.out.Gain(),
		Scheduler: c.sched.Status(),
	}
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	if c.cur == nil {
		return st
	}

	cur := *c.cur
	st.State = schedule.Playing
	st.Session = &cur

	total := cur.Duration.Seconds()
	st.Elapsed = math.Min(math.Max(c.out.CurrentTime()-cur.Start, 0), total)
	st.Remaining = total - st.Elapsed
	st.Progress = st.Elapsed / total * 100
	return st
}
