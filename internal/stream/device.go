//go:build !headless

package stream

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/satindergrewal/tinnitone/internal/audio"
	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// Device plays the live mix on the local sound card.
type Device struct {
	fanout   *Fanout
	listener *Listener
	ctx      *oto.Context
	player   *oto.Player

	mu     sync.Mutex
	closed bool
}

// OpenDevice starts playback of f's frames at sampleRate.
func OpenDevice(f *Fanout, sampleRate int) (*Device, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", therapy.ErrAudioBackendUnavailable, err)
	}
	<-ready

	l := f.Subscribe()
	d := &Device{fanout: f, listener: l, ctx: ctx}
	d.player = ctx.NewPlayer(NewFrameReader(l))
	d.player.Play()
	log.Printf("Device output started at %d Hz", sampleRate)
	return d, nil
}

// Close stops playback.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.fanout.Unsubscribe(d.listener)
	return d.player.Close()
}
