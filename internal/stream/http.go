package stream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"slices"
	"strconv"

	"github.com/satindergrewal/tinnitone/internal/audio"
)

// mp3Bitrates are the constant bitrates a listener may ask for with ?kbps=.
var mp3Bitrates = []int{64, 96, 128, 160, 192, 256, 320}

// HTTPHandler serves the live mix as a chunked MP3 stream. Each connection
// runs its own ffmpeg process encoding PCM to MP3 in real time.
type HTTPHandler struct {
	fanout     *Fanout
	ffmpeg     string
	kbps       int
	sampleRate int
}

// NewHTTPHandler creates an MP3 stream handler for frames at sampleRate.
func NewHTTPHandler(f *Fanout, ffmpeg string, kbps, sampleRate int) *HTTPHandler {
	return &HTTPHandler{fanout: f, ffmpeg: ffmpeg, kbps: kbps, sampleRate: sampleRate}
}

func mp3Args(sampleRate, kbps int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", kbps),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

// bitrate picks the request's ?kbps= if it is a standard MP3 rate.
func (h *HTTPHandler) bitrate(r *http.Request) (int, error) {
	q := r.URL.Query().Get("kbps")
	if q == "" {
		return h.kbps, nil
	}
	kbps, err := strconv.Atoi(q)
	if err != nil || !slices.Contains(mp3Bitrates, kbps) {
		return 0, fmt.Errorf("kbps must be one of %v", mp3Bitrates)
	}
	return kbps, nil
}

// mp3Process is one running PCM-to-MP3 encoder.
type mp3Process struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.ReadCloser
}

func startMP3(ctx context.Context, bin string, sampleRate, kbps int) (*mp3Process, error) {
	cmd := exec.CommandContext(ctx, bin, mp3Args(sampleRate, kbps)...)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	return &mp3Process{cmd: cmd, in: in, out: out}, nil
}

// feed writes the listener's frames into the encoder until the listener is
// dropped, ctx ends or the encoder stops reading.
func (p *mp3Process) feed(ctx context.Context, l *Listener) {
	defer p.in.Close()
	pcm := make([]byte, 0, audio.FrameBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame := <-l.C:
			pcm = appendPCM(pcm[:0], frame)
			if _, err := p.in.Write(pcm); err != nil {
				return
			}
		}
	}
}

// flushWriter pushes every write to the client right away.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	kbps, err := h.bitrate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	proc, err := startMP3(ctx, h.ffmpeg, h.sampleRate, kbps)
	if err != nil {
		log.Printf("HTTP stream: %v", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer proc.cmd.Wait()
	defer cancel()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "tinnitone")
	w.Header().Set("ICY-Br", strconv.Itoa(kbps))

	listener := h.fanout.Subscribe()
	defer h.fanout.Unsubscribe(listener)
	log.Printf("HTTP listener connected at %d kbps (total: %d)", kbps, h.fanout.ListenerCount())

	go proc.feed(ctx, listener)

	if _, err := io.Copy(flushWriter{w, flusher}, proc.out); err != nil && ctx.Err() == nil {
		log.Printf("HTTP stream: %v", err)
	}
	log.Printf("HTTP listener disconnected (%d frames dropped)", listener.Dropped())
}
