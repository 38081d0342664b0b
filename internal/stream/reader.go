package stream

import (
	"encoding/binary"
	"io"
)

// FrameReader exposes a listener as an s16le byte stream for pull-based
// audio sinks. When no frame is queued it returns silence instead of
// blocking the sink.
type FrameReader struct {
	l       *Listener
	pending []byte
}

// NewFrameReader reads frames from l.
func NewFrameReader(l *Listener) *FrameReader {
	return &FrameReader{l: l}
}

func (r *FrameReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			select {
			case <-r.l.Done():
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			case frame := <-r.l.C:
				r.pending = appendPCM(r.pending[:0], frame)
			default:
				clear(p[n:])
				return len(p), nil
			}
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}

func appendPCM(dst []byte, frame []int16) []byte {
	for _, s := range frame {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
