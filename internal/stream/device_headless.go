//go:build headless

package stream

import (
	"fmt"

	"github.com/satindergrewal/tinnitone/internal/therapy"
)

// Device is unavailable in headless builds.
type Device struct{}

// OpenDevice always fails in headless builds.
func OpenDevice(f *Fanout, sampleRate int) (*Device, error) {
	return nil, fmt.Errorf("%w: built without sound card support", therapy.ErrAudioBackendUnavailable)
}

func (d *Device) Close() error { return nil }
