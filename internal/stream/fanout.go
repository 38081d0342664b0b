// Package stream delivers the live mix to listeners: browsers over HTTP (MP3)
// or WebRTC (Opus), and the local sound card.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-listener queue: 3 seconds of 20ms frames.
const DefaultBuffer = 150

// Fanout copies frames from one source to any number of listeners. A listener
// that falls behind loses frames; it never stalls the graph.
type Fanout struct {
	buffer int

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	frames    atomic.Uint64
}

// Listener receives interleaved stereo frames.
type Listener struct {
	C       chan []int16
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped counts frames lost because C was full.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}

// NewFanout creates a fanout with buffer frames queued per listener.
func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Fanout{
		buffer:    buffer,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (f *Fanout) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, f.buffer),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	f.listeners[l] = struct{}{}
	f.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. Safe to call twice.
func (f *Fanout) Unsubscribe(l *Listener) {
	f.mu.Lock()
	delete(f.listeners, l)
	f.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (f *Fanout) ListenerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Frames is the number of frames read from the source so far.
func (f *Fanout) Frames() uint64 {
	return f.frames.Load()
}

// Run copies frames from source until ctx is done or source closes. On exit
// every remaining listener is unsubscribed.
func (f *Fanout) Run(ctx context.Context, source <-chan []int16) {
	defer f.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			f.frames.Add(1)
			f.mu.RLock()
			for l := range f.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			f.mu.RUnlock()
		}
	}
}

func (f *Fanout) closeAll() {
	f.mu.Lock()
	ls := make([]*Listener, 0, len(f.listeners))
	for l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		f.Unsubscribe(l)
	}
}
