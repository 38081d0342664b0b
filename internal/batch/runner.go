// Package batch renders a manifest of one-hour treatment files and converts
// them to MP3.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/tinnitone/internal/catalog"
	"github.com/satindergrewal/tinnitone/internal/render"
	"github.com/satindergrewal/tinnitone/internal/synth"
	"github.com/satindergrewal/tinnitone/internal/telemetry"
	"github.com/satindergrewal/tinnitone/internal/therapy"
	"github.com/satindergrewal/tinnitone/internal/wav"
)

// Encoder converts a WAV file into a compressed file and returns its path.
type Encoder interface {
	Encode(ctx context.Context, wavPath string, kbps int) (string, error)
}

// Recorder stores generated assets.
type Recorder interface {
	Record(ctx context.Context, a catalog.Asset) error
}

// Failure is one item that could not be generated.
type Failure struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// Report summarizes a run.
type Report struct {
	RunID     string        `json:"run_id"`
	Seed      uint64        `json:"seed"`
	Total     int           `json:"total"`
	Generated int           `json:"generated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Bytes     int64         `json:"bytes"`
	Failures  []Failure     `json:"failures,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner generates every item of a manifest in order.
type Runner struct {
	m       Manifest
	enc     Encoder
	rec     Recorder
	metrics *telemetry.Metrics
}

// NewRunner creates a runner. A nil encoder makes Run fail before any work.
func NewRunner(m Manifest, enc Encoder) *Runner {
	return &Runner{m: m, enc: enc}
}

// SetRecorder attaches a catalog.
func (r *Runner) SetRecorder(rec Recorder) {
	r.rec = rec
}

// SetMetrics attaches instruments.
func (r *Runner) SetMetrics(m *telemetry.Metrics) {
	r.metrics = m
}

// Run generates the batch. A missing encoder, configuration or resource
// error, or cancellation aborts the run; a single item failing to write or
// encode is recorded in the report and skipped.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	began := time.Now()
	rep := Report{RunID: uuid.NewString(), Seed: r.m.Seed}

	if err := r.m.Validate(); err != nil {
		return rep, err
	}
	if r.enc == nil {
		return rep, fmt.Errorf("%w: no encoder available, install ffmpeg", therapy.ErrEncodingFailure)
	}
	if rep.Seed == 0 {
		rep.Seed = uint64(time.Now().UnixNano())
	}
	if err := os.MkdirAll(r.m.OutputDir, 0o755); err != nil {
		return rep, fmt.Errorf("create output dir: %w", err)
	}

	items := r.m.Items(rep.Seed)
	rep.Total = len(items)

	log.Print(strings.Repeat("=", 60))
	log.Printf("Batch %s: %d files, seed %d", rep.RunID, rep.Total, rep.Seed)
	log.Printf("Frequencies: %v Hz", r.m.Frequencies)
	log.Printf("Output directory: %s", r.m.OutputDir)
	log.Print(strings.Repeat("=", 60))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return r.finish(rep, began), err
		}
		log.Printf("[%d/%d] Generating %.0fHz - %s hearing", i+1, rep.Total, item.TinnitusHz, item.Severity)

		mp3Path := filepath.Join(r.m.OutputDir, item.Name+".mp3")
		if _, err := os.Stat(mp3Path); err == nil {
			log.Printf("  File already exists, skipping: %s.mp3", item.Name)
			rep.Skipped++
			r.metrics.BatchItem(ctx, "skipped")
			continue
		}

		size, err := r.generate(ctx, rep.RunID, item, mp3Path)
		if err != nil {
			if fatal(ctx, err) {
				return r.finish(rep, began), err
			}
			log.Printf("  Failed to generate %s: %v", item.Name, err)
			rep.Failed++
			rep.Failures = append(rep.Failures, Failure{Name: item.Name, Err: err.Error()})
			r.metrics.BatchItem(ctx, "failed")
			continue
		}

		log.Printf("  Generated %s.mp3 (%.1f MB)", item.Name, float64(size)/1024/1024)
		rep.Generated++
		rep.Bytes += size
		r.metrics.BatchItem(ctx, "generated")
	}

	return r.finish(rep, began), nil
}

// fatal reports whether err must stop the whole batch rather than one item.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, therapy.ErrConfiguration) ||
		errors.Is(err, therapy.ErrResourceExhaustion)
}

func (r *Runner) generate(ctx context.Context, runID string, item Item, mp3Path string) (int64, error) {
	p := therapy.Profile{TinnitusHz: item.TinnitusHz, Severity: item.Severity, OutputGain: 1}

	log.Printf("  Rendering %.0fs at %d Hz...", r.m.DurationSeconds, r.m.SampleRate)
	rn := render.New(synth.NewSource(item.Seed),
		render.WithWorkers(r.m.Workers),
		render.WithMetrics(r.metrics),
		render.WithProgress(logProgress),
	)
	buf, err := rn.Render(ctx, p, r.m.DurationSeconds, r.m.SampleRate)
	if err != nil {
		return 0, err
	}

	wavPath := filepath.Join(r.m.OutputDir, item.Name+".wav")
	if err := wav.WriteFile(wavPath, buf.Left, buf.Right, buf.SampleRate); err != nil {
		return 0, err
	}
	log.Printf("  WAV file written: %s", filepath.Base(wavPath))

	out, err := r.enc.Encode(ctx, wavPath, r.m.BitrateKbps)
	if err != nil {
		return 0, err
	}
	if out != mp3Path {
		if err := os.Rename(out, mp3Path); err != nil {
			return 0, fmt.Errorf("%w: move %s: %v", therapy.ErrEncodingFailure, out, err)
		}
	}

	info, err := os.Stat(mp3Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", therapy.ErrEncodingFailure, err)
	}

	if r.rec != nil {
		err := r.rec.Record(ctx, catalog.Asset{
			RunID:      runID,
			TinnitusHz: item.TinnitusHz,
			Severity:   item.Severity,
			Seed:       item.Seed,
			SampleRate: r.m.SampleRate,
			Seconds:    r.m.DurationSeconds,
			Path:       mp3Path,
			Bytes:      info.Size(),
		})
		if err != nil {
			log.Printf("  Catalog record failed for %s: %v", item.Name, err)
		}
	}
	return info.Size(), nil
}

func logProgress(done, total int) error {
	if done%100 == 0 || done == total {
		log.Printf("    Progress: %.1f%%", float64(done)/float64(total)*100)
	}
	return nil
}

func (r *Runner) finish(rep Report, began time.Time) Report {
	rep.Elapsed = time.Since(began)
	log.Print(strings.Repeat("=", 60))
	log.Printf("Batch complete: %d generated, %d skipped, %d failed (%.2f GB) in %s",
		rep.Generated, rep.Skipped, rep.Failed, float64(rep.Bytes)/1024/1024/1024, rep.Elapsed.Round(time.Second))
	log.Print(strings.Repeat("=", 60))
	return rep
}
