package voice

import (
	"errors"
	"fmt"
)

// StartErrorKind classifies why [Start] failed.
type StartErrorKind string

const (
	// KindPermissionDenied means the capture device could not be acquired.
	KindPermissionDenied StartErrorKind = "permission_denied"

	// KindAuthFailure means no credential could be obtained, or the remote
	// rejected it.
	KindAuthFailure StartErrorKind = "auth_failure"

	// KindConnectFailure means the channel to the remote agent could not be
	// opened.
	KindConnectFailure StartErrorKind = "connect_failure"

	// KindRenderFailure means the playback device could not be opened.
	KindRenderFailure StartErrorKind = "render_failure"
)

// Sentinels matched by [StartError.Is].
var (
	ErrPermissionDenied = errors.New("voice: microphone permission denied")
	ErrAuthFailure      = errors.New("voice: authentication failed")
	ErrConnectFailure   = errors.New("voice: could not connect to the voice service")
	ErrRenderFailure    = errors.New("voice: could not open the audio output")
)

// StartError is returned by [Start] when a session cannot be established.
// Use errors.Is with the Err* sentinels, or errors.As to read Kind.
type StartError struct {
	Kind StartErrorKind
	Err  error
}

func (e *StartError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

// Unwrap returns the underlying cause.
func (e *StartError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *StartError) Is(target error) bool {
	return target == e.sentinel()
}

// Reason returns a short message suitable for showing to the user.
func (e *StartError) Reason() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Microphone access is required for voice sessions. Please allow it and try again."
	case KindAuthFailure:
		return "Your sign-in has expired. Please sign in again."
	case KindRenderFailure:
		return "Audio output is unavailable. Check your speaker or headphones."
	default:
		return "Could not reach the voice service. Check your connection and try again."
	}
}

func (e *StartError) sentinel() error {
	switch e.Kind {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindAuthFailure:
		return ErrAuthFailure
	case KindRenderFailure:
		return ErrRenderFailure
	default:
		return ErrConnectFailure
	}
}

func startError(kind StartErrorKind, err error) *StartError {
	return &StartError{Kind: kind, Err: err}
}
