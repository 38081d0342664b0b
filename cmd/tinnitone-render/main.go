// Command tinnitone-render pre-renders a batch of one-hour treatment files
// and encodes them to MP3.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satindergrewal/tinnitone/internal/batch"
	"github.com/satindergrewal/tinnitone/internal/catalog"
	"github.com/satindergrewal/tinnitone/internal/encoder"
	"github.com/satindergrewal/tinnitone/internal/telemetry"
)

// options are the command-line flags. A manifest takes precedence over
// -quick; the remaining flags override whichever base was chosen.
type options struct {
	manifest string
	quick    bool
	out      string
	catalog  string
	seed     uint64
	workers  int
	report   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("tinnitone-render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.manifest, "manifest", "", "YAML manifest (default: every frequency and severity)")
	fs.BoolVar(&o.quick, "quick", false, "only generate the 8 kHz set")
	fs.StringVar(&o.out, "out", "", "output directory, overrides the manifest")
	fs.StringVar(&o.catalog, "catalog", "", "SQLite catalog, overrides the manifest")
	fs.Uint64Var(&o.seed, "seed", 0, "stimulus seed, overrides the manifest (0 = random)")
	fs.IntVar(&o.workers, "workers", 0, "render workers, overrides the manifest")
	fs.StringVar(&o.report, "report", "", "write the run report as JSON to this file")
	err := fs.Parse(args)
	return o, err
}

// buildManifest builds the batch manifest the options describe.
func (o options) buildManifest() (batch.Manifest, error) {
	m := batch.Default()
	switch {
	case o.manifest != "":
		var err error
		if m, err = batch.Load(o.manifest); err != nil {
			return m, err
		}
	case o.quick:
		m = batch.Quick()
	}
	if o.out != "" {
		m.OutputDir = o.out
	}
	if o.catalog != "" {
		m.Catalog = o.catalog
	}
	if o.seed != 0 {
		m.Seed = o.seed
	}
	if o.workers > 0 {
		m.Workers = o.workers
	}
	return m, m.Validate()
}

// runReport is the -report file: the batch summary plus the run's metric
// totals.
type runReport struct {
	batch.Report
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return 2
	}
	m, err := o.buildManifest()
	if err != nil {
		log.Printf("Manifest: %v", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ff, err := encoder.Lookup(ctx, m.FFmpeg)
	if err != nil {
		log.Printf("Encoder: %v (install ffmpeg with libmp3lame)", err)
		return 1
	}
	ff.KeepWAV = m.KeepWAV
	log.Printf("Using encoder %s", ff.Path())

	collector, err := telemetry.NewCollector(ctx, "tinnitone-render")
	if err != nil {
		log.Printf("Telemetry: %v", err)
		return 1
	}
	defer collector.Shutdown(context.Background())

	runner := batch.NewRunner(m, ff)
	runner.SetMetrics(collector.Metrics())

	if m.Catalog != "" {
		store, err := catalog.Open(ctx, m.Catalog)
		if err != nil {
			log.Printf("Catalog: %v", err)
			return 1
		}
		defer store.Close()
		runner.SetRecorder(store)
	}

	rep, runErr := runner.Run(ctx)
	log.Printf("Done: %d generated, %d skipped, %d failed (%.1f MB in %s)",
		rep.Generated, rep.Skipped, rep.Failed, float64(rep.Bytes)/1024/1024, rep.Elapsed.Round(time.Second))
	for _, f := range rep.Failures {
		log.Printf("  %s: %s", f.Name, f.Err)
	}

	totals, err := collector.Totals(context.Background())
	if err != nil {
		log.Printf("Telemetry: collect: %v", err)
	} else {
		log.Printf("Chunks rendered: %.0f", totals["tinnitone.offline.chunks_rendered"])
	}

	if o.report != "" {
		if err := writeReport(o.report, runReport{Report: rep, Metrics: totals}); err != nil {
			log.Printf("Report: %v", err)
		}
	}

	switch {
	case runErr != nil:
		log.Printf("Batch aborted: %v", runErr)
		return 1
	case rep.Failed > 0:
		return 1
	}
	return 0
}

func writeReport(path string, r runReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
