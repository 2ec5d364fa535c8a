package voicewire

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by [Channel.Receive] when the remote side closed
	// the channel cleanly, and by [Channel.Send] after [Channel.CloseSend].
	ErrClosed = errors.New("voicewire: channel closed")

	// ErrUnauthorized is returned (wrapped) by [Dialer.Dial] when the remote
	// rejected the credentials.
	ErrUnauthorized = errors.New("voicewire: unauthorized")
)

// ConnectRequest identifies the conversation a channel is opened for.
type ConnectRequest struct {
	// ConversationID names the conversation on the remote side.
	ConversationID string

	// AgentID selects the remote agent persona.
	AgentID string

	// Token is the bearer credential presented during the handshake.
	Token string
}

// Dialer opens channels to the remote agent.
type Dialer interface {
	Dial(ctx context.Context, req ConnectRequest) (Channel, error)
}

// Channel is an open bidirectional message stream to the remote agent.
//
// Send may be called concurrently with Receive. Receive must only be called
// from one goroutine at a time.
type Channel interface {
	// Send writes one message.
	Send(ctx context.Context, m Outbound) error

	// Receive blocks for the next inbound message. Malformed and unknown
	// frames are skipped by the implementation. A clean remote close returns
	// [ErrClosed]; any other error means the channel failed.
	Receive(ctx context.Context) (Inbound, error)

	// CloseSend stops further sends. Safe to call more than once.
	CloseSend() error

	// Close tears the channel down. Safe to call more than once.
	Close() error
}
