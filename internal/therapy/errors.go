package therapy

import "errors"

// Error categories shared by the live and offline paths. Callers wrap them
// with detail and compare with errors.Is.
var (
	// ErrConfiguration means the treatment profile is missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrAudioBackendUnavailable means no live output graph can be used.
	ErrAudioBackendUnavailable = errors.New("audio backend unavailable")

	// ErrResourceExhaustion means a sample buffer could not be allocated.
	ErrResourceExhaustion = errors.New("resource exhaustion")

	// ErrEncodingFailure means a PCM or lossy encode could not be produced.
	ErrEncodingFailure = errors.New("encoding failure")
)
