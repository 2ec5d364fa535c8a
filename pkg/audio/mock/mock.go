// Package mock provides in-memory implementations of [audio.CaptureSource]
// and [audio.RenderSink] for unit tests.
//
// Both mocks are safe for concurrent use. Set the exported Result/Error
// fields before use and inspect the recorded calls afterwards.
//
// Typical usage:
//
//	mic := mock.NewCapture(16)
//	speaker := &mock.Render{}
//	mic.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
)

var (
	_ audio.CaptureSource = (*Capture)(nil)
	_ audio.RenderSink    = (*Render)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock [audio.CaptureSource]. Frames pushed with [Capture.Push]
// are delivered on the channel returned by Start.
type Capture struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	frames  chan audio.AudioFrame
	stopped bool
	done    chan struct{}
	pushing sync.WaitGroup
}

// NewCapture returns a Capture whose frame channel has the given buffer size.
func NewCapture(buffer int) *Capture {
	return &Capture{frames: make(chan audio.AudioFrame, buffer)}
}

// init lazily creates the channels. Callers hold c.mu.
func (c *Capture) init() {
	if c.frames == nil {
		c.frames = make(chan audio.AudioFrame, 16)
	}
	if c.done == nil {
		c.done = make(chan struct{})
	}
}

// Start implements [audio.CaptureSource].
func (c *Capture) Start(_ context.Context) (<-chan audio.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return nil, c.StartError
	}
	c.init()
	return c.frames, nil
}

// Stop implements [audio.CaptureSource]. The first call unblocks pending
// pushes and closes the frame channel.
func (c *Capture) Stop() error {
	c.mu.Lock()
	c.CallCountStop++
	first := !c.stopped
	if first {
		c.init()
		c.stopped = true
		close(c.done)
	}
	stopErr := c.StopError
	c.mu.Unlock()

	if first {
		c.pushing.Wait()
		close(c.frames)
	}
	return stopErr
}

// Push delivers a frame to the consumer. It blocks while the frame buffer is
// full and reports false when the capture was stopped before the frame could
// be queued.
func (c *Capture) Push(f audio.AudioFrame) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.init()
	frames, done := c.frames, c.done
	c.pushing.Add(1)
	c.mu.Unlock()
	defer c.pushing.Done()

	select {
	case frames <- f:
		return true
	case <-done:
		return false
	}
}

// Stopped reports whether Stop has been called.
func (c *Capture) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// ─── Render ───────────────────────────────────────────────────────────────────

// Render is a mock [audio.RenderSink] that records every fed buffer.
type Render struct {
	mu sync.Mutex

	// OpenError is returned by Open.
	OpenError error

	// FeedError is returned by every Feed call when FeedFunc is nil.
	FeedError error

	// FeedFunc, when set, is invoked for each Feed call (outside the lock)
	// and its result returned. Use it to block or fail individual feeds.
	FeedFunc func(ctx context.Context, pcm []byte) error

	// CloseError is returned by Close.
	CloseError error

	// OpenFormat records the format passed to the last Open call.
	OpenFormat audio.Format

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	fed [][]byte
}

// Open implements [audio.RenderSink].
func (r *Render) Open(_ context.Context, f audio.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountOpen++
	r.OpenFormat = f
	return r.OpenError
}

// Feed implements [audio.RenderSink]. Successful feeds are recorded and
// visible through [Render.Fed].
func (r *Render) Feed(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	fn, ferr := r.FeedFunc, r.FeedError
	r.mu.Unlock()

	err := ferr
	if fn != nil {
		err = fn(ctx, pcm)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.fed = append(r.fed, slices.Clone(pcm))
	r.mu.Unlock()
	return nil
}

// Close implements [audio.RenderSink].
func (r *Render) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountClose++
	return r.CloseError
}

// Fed returns a copy of every successfully fed buffer, in call order.
func (r *Render) Fed() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.fed))
	copy(out, r.fed)
	return out
}

// Closed reports whether Close has been called at least once.
func (r *Render) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountClose > 0
}
