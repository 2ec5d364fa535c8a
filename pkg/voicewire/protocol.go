// Package voicewire defines the message protocol spoken between a voice
// session and the remote agent, and the [Channel] abstraction that carries it.
//
// Messages are JSON text frames tagged by a "type" field. Audio payloads are
// base64-encoded s16le PCM: 16 kHz mono from client to agent, 24 kHz mono from
// agent to client.
package voicewire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags a protocol message.
type Kind string

const (
	KindAudio        Kind = "audio"
	KindEndSession   Kind = "end_session"
	KindTurnComplete Kind = "turn_complete"
	KindTranscript   Kind = "transcript"
	KindError        Kind = "error"
	KindSessionEnded Kind = "session_ended"
	KindPing         Kind = "ping"
)

// ErrUnknownKind is returned by [Decode] for a well-formed message whose type
// is not part of the inbound protocol.
var ErrUnknownKind = errors.New("voicewire: unknown message type")

// Inbound is a message received from the remote agent. Only the fields
// relevant to Kind are populated.
type Inbound struct {
	Kind Kind

	// Audio is the decoded PCM payload of a [KindAudio] message.
	Audio []byte

	// Role and Text carry a [KindTranscript] fragment. Role is "user" or
	// "assistant".
	Role string
	Text string

	// Message is the human-readable text of a [KindError] message.
	Message string

	// DurationMinutes is the server-measured session length reported by
	// [KindSessionEnded]. Zero when the server omitted it.
	DurationMinutes float64
}

// Outbound is a message sent to the remote agent.
type Outbound struct {
	Kind  Kind
	Audio []byte
}

// AudioMessage returns an outbound audio message carrying pcm.
func AudioMessage(pcm []byte) Outbound {
	return Outbound{Kind: KindAudio, Audio: pcm}
}

// EndSessionMessage returns the outbound request to end the session.
func EndSessionMessage() Outbound {
	return Outbound{Kind: KindEndSession}
}

// wireMessage is the JSON shape shared by every message type.
type wireMessage struct {
	Type            Kind     `json:"type"`
	Data            string   `json:"data,omitempty"`
	Role            string   `json:"role,omitempty"`
	Text            string   `json:"text,omitempty"`
	Message         string   `json:"message,omitempty"`
	DurationMinutes *float64 `json:"duration_minutes,omitempty"`
}

// Encode serialises an outbound message to a JSON text frame.
func Encode(m Outbound) ([]byte, error) {
	w := wireMessage{Type: m.Kind}
	switch m.Kind {
	case KindAudio:
		w.Data = base64.StdEncoding.EncodeToString(m.Audio)
	case KindEndSession:
	default:
		return nil, fmt.Errorf("voicewire: encode: unsupported outbound type %q", m.Kind)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("voicewire: marshal: %w", err)
	}
	return data, nil
}

// Decode parses an inbound JSON text frame. Unknown message types return an
// [Inbound] with Kind set and an error wrapping [ErrUnknownKind] so callers
// can log and skip them.
func Decode(data []byte) (Inbound, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Inbound{}, fmt.Errorf("voicewire: unmarshal: %w", err)
	}

	in := Inbound{Kind: w.Type}
	switch w.Type {
	case KindAudio:
		pcm, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return Inbound{}, fmt.Errorf("voicewire: decode audio: %w", err)
		}
		in.Audio = pcm
	case KindTranscript:
		in.Role = w.Role
		in.Text = w.Text
	case KindError:
		in.Message = w.Message
	case KindSessionEnded:
		if w.DurationMinutes != nil {
			in.DurationMinutes = *w.DurationMinutes
		}
	case KindTurnComplete, KindPing:
	default:
		return in, fmt.Errorf("%w %q", ErrUnknownKind, w.Type)
	}
	return in, nil
}
