// Package mock provides in-memory implementations of [voicewire.Channel] and
// [voicewire.Dialer] for unit tests.
//
// Tests push inbound messages with [Channel.Deliver], simulate remote close
// or failure with [Channel.RemoteClose] / [Channel.Fail], and inspect sent
// messages with [Channel.Sent].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxgate/pkg/voicewire"
)

var (
	_ voicewire.Channel = (*Channel)(nil)
	_ voicewire.Dialer  = (*Dialer)(nil)
)

// ─── Channel ──────────────────────────────────────────────────────────────────

// Channel is a mock [voicewire.Channel].
type Channel struct {
	mu sync.Mutex

	// SendError, when non-nil, is returned by every Send.
	SendError error

	// SendFunc, when set, is invoked for each Send (outside the lock) before
	// the message is recorded. A non-nil result is returned and the message
	// is not recorded.
	SendFunc func(ctx context.Context, m voicewire.Outbound) error

	// CallCountCloseSend records how many times CloseSend was called.
	CallCountCloseSend int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	sent       []voicewire.Outbound
	sendClosed bool

	inbound  chan voicewire.Inbound
	failure  chan error
	closed   chan struct{}
	closeOne sync.Once
}

// NewChannel returns a Channel with room for buffer undelivered inbound
// messages.
func NewChannel(buffer int) *Channel {
	return &Channel{
		inbound: make(chan voicewire.Inbound, buffer),
		failure: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Deliver queues an inbound message for Receive. It blocks while the buffer
// is full.
func (c *Channel) Deliver(in voicewire.Inbound) {
	c.inbound <- in
}

// RemoteClose makes Receive return [voicewire.ErrClosed] once all delivered
// messages have been consumed.
func (c *Channel) RemoteClose() {
	c.Fail(voicewire.ErrClosed)
}

// Fail makes Receive return err once all delivered messages have been
// consumed. Only the first call has an effect.
func (c *Channel) Fail(err error) {
	select {
	case c.failure <- err:
	default:
	}
}

// Send implements [voicewire.Channel].
func (c *Channel) Send(ctx context.Context, m voicewire.Outbound) error {
	c.mu.Lock()
	fn, serr, closed := c.SendFunc, c.SendError, c.sendClosed
	c.mu.Unlock()

	if closed {
		return voicewire.ErrClosed
	}
	if fn != nil {
		if err := fn(ctx, m); err != nil {
			return err
		}
	}
	if serr != nil {
		return serr
	}

	c.mu.Lock()
	m.Audio = slices.Clone(m.Audio)
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	return nil
}

// Receive implements [voicewire.Channel]. Delivered messages take priority
// over a pending failure.
func (c *Channel) Receive(ctx context.Context) (voicewire.Inbound, error) {
	select {
	case in := <-c.inbound:
		return in, nil
	default:
	}
	select {
	case in := <-c.inbound:
		return in, nil
	case err := <-c.failure:
		// Keep failing on subsequent calls.
		c.Fail(err)
		return voicewire.Inbound{}, err
	case <-c.closed:
		return voicewire.Inbound{}, voicewire.ErrClosed
	case <-ctx.Done():
		return voicewire.Inbound{}, ctx.Err()
	}
}

// CloseSend implements [voicewire.Channel].
func (c *Channel) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountCloseSend++
	c.sendClosed = true
	return nil
}

// Close implements [voicewire.Channel].
func (c *Channel) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	c.mu.Unlock()
	c.closeOne.Do(func() { close(c.closed) })
	return nil
}

// Sent returns a copy of every successfully sent message, in order.
func (c *Channel) Sent() []voicewire.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// SentKinds returns the Kind of every sent message, in order.
func (c *Channel) SentKinds() []voicewire.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]voicewire.Kind, len(c.sent))
	for i, m := range c.sent {
		kinds[i] = m.Kind
	}
	return kinds
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock [voicewire.Dialer].
type Dialer struct {
	mu sync.Mutex

	// DialResult is returned by Dial when DialError is nil.
	DialResult voicewire.Channel

	// DialError is returned by Dial.
	DialError error

	// DialCalls records every request passed to Dial.
	DialCalls []voicewire.ConnectRequest
}

// Dial implements [voicewire.Dialer].
func (d *Dialer) Dial(_ context.Context, req voicewire.ConnectRequest) (voicewire.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, req)
	if d.DialError != nil {
		return nil, d.DialError
	}
	return d.DialResult, nil
}
