// Package device provides the audio endpoints of a brainstorm session:
// microphones that deliver float samples and speakers that pull rendered
// audio through a callback.
//
// The malgo implementations talk to the system's default capture and playback
// devices. [WAVMicrophone], [NullSpeaker] and [Recorder] allow headless runs
// and tests without audio hardware.
package device

import (
	"context"
	"errors"
)

// ErrClosed is returned when starting a device that was already closed.
var ErrClosed = errors.New("device: closed")

// Microphone delivers mono float32 samples at the rate it was configured for.
type Microphone interface {
	// Start begins capturing. The returned channel receives sample blocks of
	// device-chosen size and is closed after Close or when ctx is done.
	// Permission and device errors are returned here.
	Start(ctx context.Context) (<-chan []float32, error)

	// Close stops capturing and releases the device. It is idempotent.
	Close() error
}

// Speaker plays mono float32 audio pulled from a render callback.
type Speaker interface {
	// Start begins playback. render is called from the device goroutine and
	// must fill dst completely.
	Start(render func(dst []float32)) error

	// Close stops playback and releases the device. It is idempotent.
	Close() error
}
