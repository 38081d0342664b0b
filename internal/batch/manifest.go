package batch

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// Manifest describes one batch of treatment files.
type Manifest struct {
	Frequencies     []float64          `yaml:"frequencies"`
	Severities      []therapy.Severity `yaml:"severities"`
	DurationSeconds float64            `yaml:"duration_seconds"`
	SampleRate      int                `yaml:"sample_rate"`
	BitrateKbps     int                `yaml:"bitrate_kbps"`
	OutputDir       string             `yaml:"output_dir"`
	Prefix          string             `yaml:"prefix"`
	Seed            uint64             `yaml:"seed"` // 0 picks one per run
	Workers         int                `yaml:"workers"`
	KeepWAV         bool               `yaml:"keep_wav"`
	Catalog         string             `yaml:"catalog"` // empty disables the catalog
	FFmpeg          string             `yaml:"ffmpeg"`
}

// Default covers every supported frequency and severity with one-hour files.
func Default() Manifest {
	return Manifest{
		Frequencies:     slices.Clone(therapy.SupportedFrequencies),
		Severities:      therapy.Severities(),
		DurationSeconds: 3600,
		SampleRate:      44100,
		BitrateKbps:     128,
		OutputDir:       "audio-files",
		Prefix:          "tinnitone",
		Workers:         runtime.NumCPU(),
		FFmpeg:          "ffmpeg",
	}
}

// Quick is Default restricted to 8 kHz, the most common tinnitus pitch.
func Quick() Manifest {
	m := Default()
	m.Frequencies = []float64{8000}
	return m
}

// Load reads a YAML manifest on top of Default.
func Load(path string) (Manifest, error) {
	m := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, fmt.Errorf("manifest not found: %w", err)
		}
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: failed to parse manifest: %v", therapy.ErrConfiguration, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate checks the manifest and returns an ErrConfiguration on failure.
func (m Manifest) Validate() error {
	if len(m.Frequencies) == 0 {
		return fmt.Errorf("%w: frequencies must not be empty", therapy.ErrConfiguration)
	}
	for _, f := range m.Frequencies {
		if _, err := therapy.NewBand(f); err != nil {
			return err
		}
	}
	if len(m.Severities) == 0 {
		return fmt.Errorf("%w: severities must not be empty", therapy.ErrConfiguration)
	}
	for _, s := range m.Severities {
		if !s.Valid() {
			return fmt.Errorf("%w: invalid severity %d", therapy.ErrConfiguration, int(s))
		}
	}
	if math.IsNaN(m.DurationSeconds) || math.IsInf(m.DurationSeconds, 0) || m.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration_seconds must be positive", therapy.ErrConfiguration)
	}
	if m.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive", therapy.ErrConfiguration)
	}
	if m.BitrateKbps <= 0 {
		return fmt.Errorf("%w: bitrate_kbps must be positive", therapy.ErrConfiguration)
	}
	if m.OutputDir == "" {
		return fmt.Errorf("%w: output_dir must not be empty", therapy.ErrConfiguration)
	}
	if m.Prefix == "" {
		return fmt.Errorf("%w: prefix must not be empty", therapy.ErrConfiguration)
	}
	if m.Workers <= 0 {
		return fmt.Errorf("%w: workers must be >= 1", therapy.ErrConfiguration)
	}
	return nil
}

// Item is one file of the batch.
type Item struct {
	Name       string // file name without extension
	TinnitusHz float64
	Severity   therapy.Severity
	Seed       uint64
}

// Items expands the manifest into frequency-major order. seed replaces
// m.Seed so a zero manifest seed can be resolved once per run.
func (m Manifest) Items(seed uint64) []Item {
	items := make([]Item, 0, len(m.Frequencies)*len(m.Severities))
	for _, f := range m.Frequencies {
		for _, s := range m.Severities {
			items = append(items, Item{
				Name:       fmt.Sprintf("%s-%gHz-%s", m.Prefix, f, s),
				TinnitusHz: f,
				Severity:   s,
				Seed:       ItemSeed(seed, f, s),
			})
		}
	}
	return items
}

// ItemSeed mixes the run seed with the item's frequency and severity so each
// file is reproducible on its own.
func ItemSeed(seed uint64, tinnitusHz float64, s therapy.Severity) uint64 {
	x := seed ^ math.Float64bits(tinnitusHz)*0x9e3779b97f4a7c15 ^ uint64(s+1)<<56
	// splitmix64 finalizer
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
