package voice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/voicewire"
)

// captureStallTimeout bounds how long closing the mic waits for an in-flight
// capture send before aborting it.
const captureStallTimeout = time.Second

// captureGate forwards capture frames to the channel while the microphone is
// open and the session is active. Frames arriving while the gate is shut are
// dropped, never queued.
//
// A send holds the read lock for its whole duration and closing the gate takes
// the write lock, so once setOpen(false) returns no frame is on the wire. A
// send that stalls past captureStallTimeout is aborted through its own
// context; deactivate aborts it at once.
type captureGate struct {
	mu     sync.RWMutex
	open   bool
	active bool

	abortMu sync.Mutex
	abort   context.CancelFunc
	// retired is set by deactivate; sends registered afterwards are
	// cancelled on registration.
	retired atomic.Bool

	conv    audio.Converter
	ch      voicewire.Channel
	clock   Clock
	metrics *observe.Metrics
	log     *slog.Logger

	sendFailures int
}

func newCaptureGate(ch voicewire.Channel, clock Clock, m *observe.Metrics, log *slog.Logger) *captureGate {
	return &captureGate{
		open:    true,
		active:  true,
		conv:    audio.Converter{Target: audio.CaptureFormat},
		ch:      ch,
		clock:   clock,
		metrics: m,
		log:     log,
	}
}

// run forwards frames until ctx is cancelled or frames is closed.
func (g *captureGate) run(ctx context.Context, frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			g.forward(ctx, f)
		}
	}
}

func (g *captureGate) forward(ctx context.Context, f audio.AudioFrame) {
	f = g.conv.Convert(f)
	if len(f.Data) == 0 {
		return
	}

	// Registered before taking the read lock so a pending shut can always
	// reach it.
	sendCtx, cancel := context.WithCancel(ctx)
	g.setAbort(cancel)
	defer func() {
		g.setAbort(nil)
		cancel()
	}()

	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.open || !g.active {
		g.metrics.RecordOutbound(ctx, "dropped")
		return
	}
	if err := g.ch.Send(sendCtx, voicewire.AudioMessage(f.Data)); err != nil {
		if ctx.Err() != nil {
			return
		}
		g.metrics.RecordOutbound(ctx, "error")
		// Only the run goroutine touches sendFailures.
		g.sendFailures++
		if g.sendFailures == 1 {
			g.log.Warn("voice: failed to send capture frame", "err", err)
		} else {
			g.log.Debug("voice: failed to send capture frame", "err", err, "failures", g.sendFailures)
		}
		return
	}
	g.metrics.RecordOutbound(ctx, "sent")
}

func (g *captureGate) setAbort(cancel context.CancelFunc) {
	g.abortMu.Lock()
	g.abort = cancel
	g.abortMu.Unlock()
	if cancel != nil && g.retired.Load() {
		cancel()
	}
}

// abortSend cancels the in-flight send, if any.
func (g *captureGate) abortSend() {
	g.abortMu.Lock()
	defer g.abortMu.Unlock()
	if g.abort != nil {
		g.abort()
	}
}

// setOpen opens or shuts the gate. Shutting waits for an in-flight send, for
// at most captureStallTimeout.
func (g *captureGate) setOpen(open bool) {
	if open {
		g.mu.Lock()
	} else {
		g.lockBounded()
	}
	g.open = open
	g.mu.Unlock()
}

// deactivate shuts the gate for good. An in-flight send is aborted.
func (g *captureGate) deactivate() {
	g.retired.Store(true)
	g.abortSend()
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

// lockBounded takes the write lock, aborting the in-flight send if it holds
// the read lock for longer than captureStallTimeout.
func (g *captureGate) lockBounded() {
	if g.mu.TryLock() {
		return
	}
	t := g.clock.AfterFunc(captureStallTimeout, func() {
		g.log.Warn("voice: capture send stalled, aborting it", "timeout", captureStallTimeout)
		g.abortSend()
	})
	g.mu.Lock()
	t.Stop()
}
