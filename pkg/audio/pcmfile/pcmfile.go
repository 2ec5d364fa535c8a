// Package pcmfile implements file-backed audio devices so a voice session can
// run without sound hardware.
//
// [Capture] streams a raw s16le PCM file as if it were a microphone, paced in
// real time by default. [WAVSink] writes everything it is fed into a RIFF/WAVE
// file and patches the header sizes on Close.
package pcmfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

var (
	_ audio.CaptureSource = (*Capture)(nil)
	_ audio.RenderSink    = (*WAVSink)(nil)
)

const defaultFrameDuration = 20 * time.Millisecond

// ── Capture ───────────────────────────────────────────────────────────────────

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithFrameDuration sets the length of each emitted frame. Default: 20ms.
func WithFrameDuration(d time.Duration) CaptureOption {
	return func(c *Capture) { c.frameDur = d }
}

// WithRealtime controls whether frames are paced at playback speed. When
// false the file is streamed as fast as the consumer reads it.
func WithRealtime(on bool) CaptureOption {
	return func(c *Capture) { c.realtime = on }
}

// Capture reads raw PCM from a file and emits it as [audio.AudioFrame]s.
type Capture struct {
	path     string
	format   audio.Format
	frameDur time.Duration
	realtime bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapture returns a Capture for the raw PCM file at path, recorded in
// format f.
func NewCapture(path string, f audio.Format, opts ...CaptureOption) *Capture {
	c := &Capture{
		path:     path,
		format:   f,
		frameDur: defaultFrameDuration,
		realtime: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start implements [audio.CaptureSource]. An unreadable file is reported as
// [audio.ErrPermissionDenied].
func (c *Capture) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("pcmfile: open %q: %w", c.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan audio.AudioFrame, 8)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer close(out)
		defer f.Close()
		c.stream(ctx, f, out)
	}()
	return out, nil
}

func (c *Capture) stream(ctx context.Context, r io.Reader, out chan<- audio.AudioFrame) {
	size := c.format.FrameBytes(c.frameDur)
	if size <= 0 {
		return
	}
	var ticker *time.Ticker
	if c.realtime {
		ticker = time.NewTicker(c.frameDur)
		defer ticker.Stop()
	}

	var ts time.Duration
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := audio.AudioFrame{
				Data:       buf[:n-n%(c.format.Channels*audio.BytesPerSample)],
				SampleRate: c.format.SampleRate,
				Channels:   c.format.Channels,
				Timestamp:  ts,
			}
			ts += c.format.Duration(len(frame.Data))
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop implements [audio.CaptureSource]. It waits for the reader goroutine to
// exit.
func (c *Capture) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// ── WAVSink ───────────────────────────────────────────────────────────────────

// wavHeaderSize is the size of a canonical 44-byte PCM WAV header.
const wavHeaderSize = 44

// WAVSink is an [audio.RenderSink] that records fed PCM into a WAV file.
type WAVSink struct {
	path string

	mu      sync.Mutex
	f       *os.File
	format  audio.Format
	written int64
	closed  bool
}

// NewWAVSink returns a sink that writes to path on Open.
func NewWAVSink(path string) *WAVSink {
	return &WAVSink{path: path}
}

// Open implements [audio.RenderSink]. It creates (or truncates) the file and
// reserves space for the header.
func (w *WAVSink) Open(_ context.Context, f audio.Format) error {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("pcmfile: create %q: %w", w.path, err)
	}
	if _, err := file.Write(wavHeader(f, 0)); err != nil {
		file.Close()
		return fmt.Errorf("pcmfile: write header: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.f = file
	w.format = f
	w.written = 0
	w.closed = false
	return nil
}

// Feed implements [audio.RenderSink].
func (w *WAVSink) Feed(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil || w.closed {
		return errors.New("pcmfile: sink is not open")
	}
	n, err := w.f.Write(pcm)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("pcmfile: write: %w", err)
	}
	return nil
}

// Close implements [audio.RenderSink]. It rewrites the header with the final
// data size and closes the file.
func (w *WAVSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil || w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if _, err := w.f.WriteAt(wavHeader(w.format, uint32(w.written)), 0); err != nil {
		errs = append(errs, fmt.Errorf("pcmfile: patch header: %w", err))
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pcmfile: close: %w", err))
	}
	return errors.Join(errs...)
}

// Written returns the number of PCM bytes recorded so far.
func (w *WAVSink) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// wavHeader builds a PCM WAV header for dataLen bytes of s16le audio.
func wavHeader(f audio.Format, dataLen uint32) []byte {
	const bits = 16
	blockAlign := uint16(f.Channels * bits / 8)
	byteRate := uint32(f.SampleRate) * uint32(blockAlign)

	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 36+dataLen)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1)
	binary.LittleEndian.PutUint16(h[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], byteRate)
	binary.LittleEndian.PutUint16(h[32:], blockAlign)
	binary.LittleEndian.PutUint16(h[34:], bits)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], dataLen)
	return h
}
