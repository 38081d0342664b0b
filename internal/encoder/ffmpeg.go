// Package encoder converts rendered WAV files to MP3 with an external ffmpeg.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// FFmpeg runs a located ffmpeg binary.
type FFmpeg struct {
	path    string
	KeepWAV bool // leave the source file in place after a successful encode
}

// Lookup resolves bin on PATH and checks that it runs. A missing encoder
// is reported as therapy.ErrEncodingFailure.
func Lookup(ctx context.Context, bin string) (*FFmpeg, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", therapy.ErrEncodingFailure, bin, err)
	}
	if out, err := exec.CommandContext(ctx, path, "-version").CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: %s -version: %v: %s", therapy.ErrEncodingFailure, path, err, firstLine(out))
	}
	return &FFmpeg{path: path}, nil
}

// Path returns the resolved binary.
func (f *FFmpeg) Path() string {
	return f.path
}

// MP3Path maps a .wav path to its .mp3 sibling.
func MP3Path(wavPath string) string {
	return strings.TrimSuffix(wavPath, ".wav") + ".mp3"
}

// Encode converts wavPath to MP3 at kbps and returns the output path. On
// failure any partial MP3 is removed and the WAV is kept.
func (f *FFmpeg) Encode(ctx context.Context, wavPath string, kbps int) (string, error) {
	if kbps <= 0 {
		return "", fmt.Errorf("%w: bitrate must be positive, got %d", therapy.ErrConfiguration, kbps)
	}
	mp3Path := MP3Path(wavPath)

	cmd := exec.CommandContext(ctx, f.path,
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", kbps),
		"-loglevel", "error",
		"-y", mp3Path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(mp3Path)
		return "", fmt.Errorf("%w: ffmpeg %s: %v: %s", therapy.ErrEncodingFailure, wavPath, err, firstLine(stderr.Bytes()))
	}
	if _, err := os.Stat(mp3Path); err != nil {
		return "", fmt.Errorf("%w: ffmpeg produced no output: %v", therapy.ErrEncodingFailure, err)
	}

	if !f.KeepWAV {
		if err := os.Remove(wavPath); err != nil {
			log.Printf("Encoder: could not remove %s: %v", wavPath, err)
		}
	}
	return mp3Path, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
