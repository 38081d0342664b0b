package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/satindergrewal/tinnitone/internal/batch"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManifestFromFlags(t *testing.T) {
	file := writeManifest(t, "frequencies: [4000]\nseverities: [mild]\noutput_dir: from-file\nseed: 7\nworkers: 3\n")
	defaults := batch.Default()

	tests := []struct {
		name        string
		args        []string
		freqs       []float64
		outputDir   string
		catalogPath string
		seed        uint64
		workers     int
	}{
		{"defaults", nil, defaults.Frequencies, defaults.OutputDir, "", 0, defaults.Workers},
		{"quick", []string{"-quick"}, []float64{8000}, defaults.OutputDir, "", 0, defaults.Workers},
		{"manifest", []string{"-manifest", file}, []float64{4000}, "from-file", "", 7, 3},
		{"manifest wins over quick", []string{"-quick", "-manifest", file}, []float64{4000}, "from-file", "", 7, 3},
		{"overrides on manifest", []string{"-manifest", file, "-out", "x", "-catalog", "c.db", "-seed", "9", "-workers", "2"},
			[]float64{4000}, "x", "c.db", 9, 2},
		{"overrides on quick", []string{"-quick", "-out", "y", "-workers", "5"}, []float64{8000}, "y", "", 0, 5},
		{"zero workers keeps base", []string{"-manifest", file, "-workers", "0"}, []float64{4000}, "from-file", "", 7, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args, io.Discard)
			if err != nil {
				t.Fatal(err)
			}
			m, err := o.buildManifest()
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(m.Frequencies, tt.freqs) {
				t.Errorf("frequencies = %v, want %v", m.Frequencies, tt.freqs)
			}
			if m.OutputDir != tt.outputDir || m.Catalog != tt.catalogPath {
				t.Errorf("output_dir = %q catalog = %q, want %q %q", m.OutputDir, m.Catalog, tt.outputDir, tt.catalogPath)
			}
			if m.Seed != tt.seed || m.Workers != tt.workers {
				t.Errorf("seed = %d workers = %d, want %d %d", m.Seed, m.Workers, tt.seed, tt.workers)
			}
		})
	}
}

func TestManifestFlagErrors(t *testing.T) {
	if _, err := parseFlags([]string{"-workers", "many"}, io.Discard); err == nil {
		t.Error("non-numeric -workers accepted")
	}

	o, err := parseFlags([]string{"-manifest", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.buildManifest(); err == nil {
		t.Error("missing manifest accepted")
	}

	if code := run([]string{"-bogus"}); code != 2 {
		t.Errorf("unknown flag: exit %d, want 2", code)
	}
	bad := writeManifest(t, "frequencies: []\n")
	if code := run([]string{"-manifest", bad}); code != 2 {
		t.Errorf("invalid manifest: exit %d, want 2", code)
	}
}

func TestRunMissingEncoder(t *testing.T) {
	m := writeManifest(t, fmt.Sprintf("ffmpeg: %s\noutput_dir: %s\n",
		filepath.Join(t.TempDir(), "no-ffmpeg"), t.TempDir()))
	if code := run([]string{"-manifest", m}); code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
}

func TestRunWritesReport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub needs a POSIX shell")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n[ \"$1\" = \"-version\" ] && exit 0\nin=\"\"\nfor a; do [ \"$prev\" = \"-i\" ] && in=\"$a\"; prev=\"$a\"; out=\"$a\"; done\ncp \"$in\" \"$out\"\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	reportPath := filepath.Join(dir, "report.json")
	m := writeManifest(t, fmt.Sprintf(
		"frequencies: [8000]\nseverities: [normal]\nduration_seconds: 9\nsample_rate: 8000\nworkers: 2\nffmpeg: %s\n", stub))

	code := run([]string{"-manifest", m, "-out", out, "-catalog", filepath.Join(dir, "c.db"), "-seed", "3", "-report", reportPath})
	if code != 0 {
		t.Fatalf("exit %d, want 0", code)
	}
	if _, err := os.Stat(filepath.Join(out, "tinnitone-8000Hz-normal.mp3")); err != nil {
		t.Errorf("mp3 missing: %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	var rep struct {
		Generated int                `json:"generated"`
		Seed      uint64             `json:"seed"`
		Metrics   map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Generated != 1 || rep.Seed != 3 {
		t.Errorf("report = %+v", rep)
	}
	// 9 s of 4 s chunks.
	if got := rep.Metrics["tinnitone.offline.chunks_rendered"]; got != 3 {
		t.Errorf("chunks_rendered = %v, want 3", got)
	}
	if got := rep.Metrics["tinnitone.batch.items{status=generated}"]; got != 1 {
		t.Errorf("generated items = %v, want 1", got)
	}
}
