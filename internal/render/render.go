// Package render produces a complete treatment buffer offline, chunk by chunk.
package render

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/tinnitone/internal/synth"
	"github.com/satindergrewal/tinnitone/internal/telemetry"
	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// DefaultMaxBytes bounds the float32 stereo buffer. One hour at 44.1 kHz
// needs about 1.3 GB.
const DefaultMaxBytes int64 = 2 << 30

// Buffer is a finished stereo render. Left and Right always have equal length.
type Buffer struct {
	SampleRate int
	Left       []float32
	Right      []float32
}

// Len is the number of samples per channel.
func (b *Buffer) Len() int {
	return len(b.Left)
}

// Duration is the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	return float64(len(b.Left)) / float64(b.SampleRate)
}

// ProgressFunc runs between chunks with the number of chunks finished.
// Returning an error aborts the render.
type ProgressFunc func(done, total int) error

// Option configures a Renderer.
type Option func(*Renderer)

// WithWorkers renders up to n chunks concurrently. Output is identical to a
// sequential render.
func WithWorkers(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithProgress sets the between-chunk hook.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Renderer) {
		r.progress = fn
	}
}

// WithMaxBytes caps the buffer allocation.
func WithMaxBytes(n int64) Option {
	return func(r *Renderer) {
		r.maxBytes = n
	}
}

// WithChunkDuration overrides the 4 s chunk length.
func WithChunkDuration(seconds float64) Option {
	return func(r *Renderer) {
		r.chunkDuration = seconds
	}
}

// WithMetrics attaches instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Renderer) {
		r.metrics = m
	}
}

// Renderer draws chunk parameters from a seeded source and accumulates every
// chunk into one buffer.
type Renderer struct {
	src           *synth.Source
	workers       int
	progress      ProgressFunc
	maxBytes      int64
	chunkDuration float64
	metrics       *telemetry.Metrics
}

// New creates a renderer drawing from src.
func New(src *synth.Source, opts ...Option) *Renderer {
	r := &Renderer{
		src:           src,
		workers:       1,
		maxBytes:      DefaultMaxBytes,
		chunkDuration: synth.ChunkDuration,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Span is the sample range one chunk owns in the buffer.
type Span struct {
	Index  int
	Offset int64
	Length int64
}

// Spans partitions total samples into consecutive chunks of perChunk; the
// last span is shortened to end exactly at total.
func Spans(total, perChunk int64) []Span {
	if total <= 0 || perChunk <= 0 {
		return nil
	}
	n := int((total + perChunk - 1) / perChunk)
	spans := make([]Span, n)
	for i := range spans {
		off := int64(i) * perChunk
		spans[i] = Span{Index: i, Offset: off, Length: min(perChunk, total-off)}
	}
	return spans
}

type job struct {
	span  Span
	chunk synth.Chunk
}

// Render synthesizes totalSeconds of the profile's stimulus at sampleRate.
// Chunk parameters are drawn in chunk order before any synthesis, so a seed
// fully determines the result. An aborted render returns no buffer.
func (r *Renderer) Render(ctx context.Context, p therapy.Profile, totalSeconds float64, sampleRate int) (*Buffer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	band, err := p.Band()
	if err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", therapy.ErrConfiguration, sampleRate)
	}
	if math.IsNaN(totalSeconds) || math.IsInf(totalSeconds, 0) || totalSeconds <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %v", therapy.ErrConfiguration, totalSeconds)
	}

	sr := float64(sampleRate)
	perChunk := int64(math.Round(r.chunkDuration * sr))
	if perChunk < 1 {
		return nil, fmt.Errorf("%w: chunk duration %v too short", therapy.ErrConfiguration, r.chunkDuration)
	}
	totalF := math.Round(totalSeconds * sr)
	if totalF > float64(math.MaxInt64/8) {
		return nil, fmt.Errorf("%w: %v s at %d Hz overflows the sample buffer", therapy.ErrResourceExhaustion, totalSeconds, sampleRate)
	}
	total := int64(totalF)
	if need := total * 2 * 4; r.maxBytes > 0 && need > r.maxBytes {
		return nil, fmt.Errorf("%w: stereo buffer needs %d bytes, limit is %d", therapy.ErrResourceExhaustion, need, r.maxBytes)
	}

	spans := Spans(total, perChunk)
	jobs := make([]job, len(spans))
	for i, sp := range spans {
		params := r.src.Next()
		jobs[i] = job{
			span:  sp,
			chunk: synth.NewChunk(uint64(i+1), float64(sp.Offset)/sr, float64(sp.Length)/sr, params, band, p.Severity),
		}
	}

	buf := &Buffer{
		SampleRate: sampleRate,
		Left:       make([]float32, total),
		Right:      make([]float32, total),
	}

	began := time.Now()
	if r.workers > 1 {
		err = r.renderParallel(ctx, buf, jobs, perChunk)
	} else {
		err = r.renderSequential(ctx, buf, jobs, perChunk)
	}
	if err != nil {
		return nil, err
	}

	clampAll(buf.Left)
	clampAll(buf.Right)

	elapsed := time.Since(began)
	r.metrics.RenderCompleted(ctx, elapsed.Seconds())
	log.Printf("Render complete: %d chunks, %.0fs of audio in %s", len(jobs), buf.Duration(), elapsed.Round(time.Millisecond))
	return buf, nil
}

func (r *Renderer) renderSequential(ctx context.Context, buf *Buffer, jobs []job, perChunk int64) error {
	scratch := make([]float64, perChunk)
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.renderJob(ctx, buf, j, scratch)
		if r.progress != nil {
			if err := r.progress(i+1, len(jobs)); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (r *Renderer) renderParallel(ctx context.Context, buf *Buffer, jobs []job, perChunk int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	scratch := sync.Pool{New: func() any { return make([]float64, perChunk) }}

	var mu sync.Mutex
	done := 0
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := scratch.Get().([]float64)
			defer scratch.Put(s)
			r.renderJob(gctx, buf, j, s)

			mu.Lock()
			defer mu.Unlock()
			done++
			if r.progress != nil {
				return r.progress(done, len(jobs))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// renderJob writes one chunk into its own span of both channels.
func (r *Renderer) renderJob(ctx context.Context, buf *Buffer, j job, scratch []float64) {
	s := scratch[:j.span.Length]
	clear(s)
	j.chunk.Render(s, buf.SampleRate)

	left := buf.Left[j.span.Offset : j.span.Offset+j.span.Length]
	right := buf.Right[j.span.Offset : j.span.Offset+j.span.Length]
	for i, v := range s {
		left[i] += float32(v)
		right[i] += float32(v)
	}
	r.metrics.ChunkRendered(ctx)
}

func clampAll(samples []float32) {
	for i, v := range samples {
		if v > 1 {
			samples[i] = 1
		} else if v < -1 {
			samples[i] = -1
		}
	}
}
