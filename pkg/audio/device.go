package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned (possibly wrapped) by [CaptureSource.Start]
// when the device exists but access to it was refused.
var ErrPermissionDenied = errors.New("audio: capture permission denied")

// CaptureSource is a microphone-like device.
//
// Implementations must be safe for a Stop call concurrent with frame delivery.
type CaptureSource interface {
	// Start acquires the device and begins streaming frames on the returned
	// channel. ctx bounds the lifetime of the stream. The channel is closed
	// once capture has stopped.
	Start(ctx context.Context) (<-chan AudioFrame, error)

	// Stop releases the device. Safe to call more than once.
	Stop() error
}

// RenderSink is a speaker-like device that plays PCM as it is fed.
type RenderSink interface {
	// Open prepares the device for PCM in format f.
	Open(ctx context.Context, f Format) error

	// Feed hands pcm to the device. It may block while the device buffers the
	// data; it returns when the sink has accepted all of it.
	Feed(ctx context.Context, pcm []byte) error

	// Close releases the device. Safe to call more than once.
	Close() error
}
