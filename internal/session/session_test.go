package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/tinnitone/internal/audio"
	"github.com/satindergrewal/tinnitone/internal/schedule"
	"github.com/satindergrewal/tinnitone/internal/synth"
	"github.com/satindergrewal/tinnitone/internal/therapy"
)

type fakeOutput struct {
	mu     sync.Mutex
	now    float64
	gain   float64
	groups map[uint64][]audio.Voice
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{groups: make(map[uint64][]audio.Voice)}
}

func (f *fakeOutput) SampleRate() int { return 48000 }

func (f *fakeOutput) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutput) setTime(t float64) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *fakeOutput) Schedule(id uint64, voices []audio.Voice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[id] = voices
}

func (f *fakeOutput) Cancel(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.groups[id]
	delete(f.groups, id)
	return ok
}

func (f *fakeOutput) CancelAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.groups)
	clear(f.groups)
	return n
}

func (f *fakeOutput) SetGain(v float64) {
	f.mu.Lock()
	f.gain = v
	f.mu.Unlock()
}

func (f *fakeOutput) Gain() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

func (f *fakeOutput) groupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups)
}

var profile = therapy.Profile{TinnitusHz: 8000, Severity: therapy.Moderate, OutputGain: 0.4}

func newController(d time.Duration) (*Controller, *fakeOutput) {
	out := newFakeOutput()
	sched := schedule.New(out, synth.NewSource(11), schedule.DefaultConfig())
	return New(out, sched, d), out
}

func TestStartValidates(t *testing.T) {
	c, _ := newController(0)
	bad := []therapy.Profile{
		{TinnitusHz: 3000, Severity: therapy.Mild, OutputGain: 0.5},
		{TinnitusHz: 0, Severity: therapy.Mild, OutputGain: 0.5},
		{TinnitusHz: 4000, Severity: therapy.Severity(9), OutputGain: 0.5},
		{TinnitusHz: 4000, Severity: therapy.Mild, OutputGain: 2},
	}
	for _, p := range bad {
		if _, err := c.Start(p); !errors.Is(err, therapy.ErrConfiguration) {
			t.Errorf("Start(%+v): err = %v, want ErrConfiguration", p, err)
		}
	}
	if st := c.Status(); st.State != schedule.Idle || st.Session != nil {
		t.Errorf("failed starts left status %+v", st)
	}
}

func TestStartStop(t *testing.T) {
	c, out := newController(0)
	out.setTime(10)

	s, err := c.Start(profile)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" || s.Start != 10 || s.Duration != DefaultDuration || s.Outcome != OutcomePlaying {
		t.Errorf("session = %+v", s)
	}
	if s.Band.CenterHz != 8000 {
		t.Errorf("band = %+v", s.Band)
	}
	if out.Gain() != 0.4 {
		t.Errorf("gain = %v, want profile output gain", out.Gain())
	}
	if _, err := c.Start(profile); !errors.Is(err, schedule.ErrPlaying) {
		t.Errorf("second Start: err = %v", err)
	}

	c.Tick()
	if out.groupCount() != 1 {
		t.Fatalf("%d chunks queued, want 1", out.groupCount())
	}

	if !c.Stop() {
		t.Error("Stop returned false with a session playing")
	}
	if out.groupCount() != 0 {
		t.Error("Stop left chunks on the graph")
	}
	st := c.Status()
	if st.State != schedule.Idle || st.Last == nil || st.Last.Outcome != OutcomeStopped || st.Last.ID != s.ID {
		t.Errorf("status after stop = %+v", st)
	}
	if c.Stop() {
		t.Error("second Stop returned true")
	}
}

func TestSessionCompletes(t *testing.T) {
	c, out := newController(10 * time.Second)
	if _, err := c.Start(profile); err != nil {
		t.Fatal(err)
	}

	var starts []float64
	seen := map[uint64]bool{}
	for i := 0; i < 200; i++ {
		out.setTime(float64(i) * 0.05)
		c.Tick()
		out.mu.Lock()
		for id, vs := range out.groups {
			if !seen[id] && len(vs) > 0 {
				seen[id] = true
				starts = append(starts, vs[0].Start)
			}
		}
		out.mu.Unlock()
	}
	if c.Status().State != schedule.Playing {
		t.Fatal("session ended early")
	}
	// 10 s of 4 s chunks: starts at 0, 4 and 8 only.
	if len(starts) != 3 {
		t.Errorf("queued chunks at %v, want 3", starts)
	}

	out.setTime(10)
	c.Tick()
	st := c.Status()
	if st.State != schedule.Idle || st.Last == nil || st.Last.Outcome != OutcomeCompleted {
		t.Errorf("status after end = %+v", st)
	}
}

func TestStatusCountdown(t *testing.T) {
	c, out := newController(100 * time.Second)
	out.setTime(50)
	if _, err := c.Start(profile); err != nil {
		t.Fatal(err)
	}
	out.setTime(75)
	st := c.Status()
	if st.Elapsed != 25 || st.Remaining != 75 || st.Progress != 25 {
		t.Errorf("elapsed=%v remaining=%v progress=%v", st.Elapsed, st.Remaining, st.Progress)
	}
	if st.Gain != 0.4 {
		t.Errorf("gain = %v", st.Gain)
	}
}

func TestSetGain(t *testing.T) {
	c, out := newController(0)
	if err := c.SetGain(0.8); err != nil {
		t.Fatal(err)
	}
	if out.Gain() != 0.8 {
		t.Errorf("gain = %v", out.Gain())
	}
	for _, g := range []float64{-0.1, 1.5} {
		if err := c.SetGain(g); !errors.Is(err, therapy.ErrConfiguration) {
			t.Errorf("SetGain(%v): err = %v", g, err)
		}
	}
}

func TestPlayTone(t *testing.T) {
	c, out := newController(0)
	out.setTime(3)
	if err := c.PlayTone(4000, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	out.mu.Lock()
	var v audio.Voice
	for id, vs := range out.groups {
		if id&toneIDBase == 0 {
			t.Errorf("tone id %d collides with chunk ids", id)
		}
		v = vs[0]
	}
	out.mu.Unlock()
	if v.FrequencyHz != 4000 || v.Start != 3 || v.Stop != 5 || v.Gain.At(4) != 1 {
		t.Errorf("tone voice = %+v", v)
	}

	if err := c.PlayTone(30000, time.Second); !errors.Is(err, therapy.ErrConfiguration) {
		t.Errorf("above nyquist: err = %v", err)
	}
	if err := c.PlayTone(1000, 0); !errors.Is(err, therapy.ErrConfiguration) {
		t.Errorf("zero duration: err = %v", err)
	}

	if _, err := c.Start(profile); err != nil {
		t.Fatal(err)
	}
	if err := c.PlayTone(1000, time.Second); !errors.Is(err, schedule.ErrPlaying) {
		t.Errorf("tone during session: err = %v", err)
	}
}

func TestPreview(t *testing.T) {
	c, out := newController(0)
	if err := c.Preview(profile); err != nil {
		t.Fatal(err)
	}
	if out.groupCount() != 1 {
		t.Errorf("%d groups after preview", out.groupCount())
	}
	if c.Status().State != schedule.Idle {
		t.Error("preview started a session")
	}
	if err := c.Preview(therapy.Profile{}); !errors.Is(err, therapy.ErrConfiguration) {
		t.Errorf("invalid preview: err = %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	out := newFakeOutput()
	cfg := schedule.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	c := New(out, schedule.New(out, synth.NewSource(1), cfg), 0)
	if _, err := c.Start(profile); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for out.groupCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Run never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if c.Status().State != schedule.Idle {
		t.Error("session still playing after Run returned")
	}
	if out.groupCount() != 0 {
		t.Error("chunks left on the graph")
	}
}

func TestStartClearsPreview(t *testing.T) {
	c, out := newController(0)
	if err := c.Preview(profile); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(profile); err != nil {
		t.Fatal(err)
	}
	c.Tick()
	if n := out.groupCount(); n != 1 {
		t.Errorf("%d groups while playing, want only the session chunk", n)
	}

	if !c.Stop() {
		t.Error("Stop returned false with a session playing")
	}
	if n := out.groupCount(); n != 0 {
		t.Errorf("%d groups left after Stop", n)
	}
}

func TestStopSilencesCalibration(t *testing.T) {
	c, out := newController(0)
	if err := c.PlayTone(1000, time.Minute); err != nil {
		t.Fatal(err)
	}
	if !c.Stop() {
		t.Error("Stop returned false with a tone sounding")
	}
	if n := out.groupCount(); n != 0 {
		t.Errorf("%d groups left after Stop", n)
	}

	if err := c.Preview(profile); err != nil {
		t.Fatal(err)
	}
	if !c.Stop() {
		t.Error("Stop returned false with a preview sounding")
	}
	if out.groupCount() != 0 || c.Stop() {
		t.Error("Stop on a silent graph should report nothing stopped")
	}
	if st := c.Status(); st.Last != nil {
		t.Errorf("calibration stop recorded a session: %+v", st.Last)
	}
}

func TestLongLookAheadStopsAtSessionEnd(t *testing.T) {
	out := newFakeOutput()
	cfg := schedule.DefaultConfig()
	cfg.LookAhead = 30 * time.Second
	c := New(out, schedule.New(out, synth.NewSource(5), cfg), 6*time.Second)
	if _, err := c.Start(profile); err != nil {
		t.Fatal(err)
	}

	c.Tick()
	out.mu.Lock()
	var starts []float64
	for _, vs := range out.groups {
		starts = append(starts, vs[0].Start)
	}
	out.mu.Unlock()
	// 6 s session of 4 s chunks: only 0 and 4 start before the end.
	if len(starts) != 2 {
		t.Errorf("queued chunks at %v, want 2", starts)
	}
	for _, st := range starts {
		if st >= 6 {
			t.Errorf("chunk at %v starts past the session end", st)
		}
	}
}
