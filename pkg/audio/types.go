// Package audio defines the PCM frame type, stream formats, and the device
// interfaces a voice session captures from and renders to.
//
// All PCM in this package is signed 16-bit little-endian. A [CaptureSource]
// produces [AudioFrame]s in whatever format the device delivers; the session
// normalises them to [CaptureFormat] before they leave the process. A
// [RenderSink] is opened with [RenderFormat] and fed raw bytes.
package audio

import "time"

// BytesPerSample is the width of one signed 16-bit PCM sample.
const BytesPerSample = 2

// AudioFrame is a single chunk of PCM produced by a capture device.
type AudioFrame struct {
	// Data holds interleaved s16le samples.
	Data []byte

	// SampleRate in Hz (16000 for the outbound stream).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	// CaptureFormat is the format of audio sent to the remote agent.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1}

	// RenderFormat is the format of audio received from the remote agent.
	RenderFormat = Format{SampleRate: 24000, Channels: 1}
)

// BytesPerSecond returns the byte rate of a stream in format f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns how long n bytes of PCM in format f take to play.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// FrameBytes returns the size in bytes of a frame of length d, rounded down
// to a whole sample across all channels.
func (f Format) FrameBytes(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	align := f.Channels * BytesPerSample
	if align <= 0 {
		return 0
	}
	return n - n%align
}
