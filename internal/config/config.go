package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port    int
	Metrics bool // expose /metrics

	// Real-time scheduling
	LookAhead       time.Duration
	PollInterval    time.Duration
	ControlInterval time.Duration // spacing of gain breakpoints
	SampleAccurate  bool          // per-sample envelopes instead of control-rate steps

	// Session
	SessionDuration time.Duration
	Gain            float64 // master output gain at startup
	Seed            uint64  // 0 picks a time-based seed

	// Delivery
	Device      bool   // play on the local sound card
	FFmpegPath  string // binary used for MP3 streaming and batch encoding
	StreamKbps  int
	OpusBitrate int
	CatalogPath string // rendered-asset catalog, empty to disable
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:    envInt("TINNITONE_PORT", 8080),
		Metrics: envBool("TINNITONE_METRICS", true),

		LookAhead:       time.Duration(envInt("TINNITONE_LOOKAHEAD_MS", 100)) * time.Millisecond,
		PollInterval:    time.Duration(envInt("TINNITONE_POLL_MS", 50)) * time.Millisecond,
		ControlInterval: time.Duration(envInt("TINNITONE_CONTROL_MS", 50)) * time.Millisecond,
		SampleAccurate:  envBool("TINNITONE_SAMPLE_ACCURATE", false),

		SessionDuration: time.Duration(envInt("TINNITONE_SESSION_MINUTES", 60)) * time.Minute,
		Gain:            envFloat("TINNITONE_GAIN", 0.3),
		Seed:            envUint("TINNITONE_SEED", 0),

		Device:      envBool("TINNITONE_DEVICE", false),
		FFmpegPath:  envStr("TINNITONE_FFMPEG", "ffmpeg"),
		StreamKbps:  envInt("TINNITONE_STREAM_KBPS", 192),
		OpusBitrate: envInt("TINNITONE_OPUS_BITRATE", 128000),
		CatalogPath: envStr("TINNITONE_CATALOG", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
