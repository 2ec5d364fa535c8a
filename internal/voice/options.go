package voice

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
)

// Tunables are the turn-taking timings of a session.
type Tunables struct {
	// FallbackDelay reopens the mic this long after playback drained when the
	// remote agent never signalled the end of its turn.
	FallbackDelay time.Duration

	// SafetyMargin is added to the computed remaining playback time before
	// the mic reopens.
	SafetyMargin time.Duration

	// PreRoll delays the first feed of each turn so a few chunks accumulate.
	// Zero disables it.
	PreRoll time.Duration

	// EndSendTimeout bounds the best-effort end_session send in [Session.End].
	EndSendTimeout time.Duration

	// BytesPerSecond is the playback rate of inbound audio.
	BytesPerSecond int
}

// DefaultTunables returns the timings used when none are configured.
func DefaultTunables() Tunables {
	return Tunables{
		FallbackDelay:  3 * time.Second,
		SafetyMargin:   800 * time.Millisecond,
		PreRoll:        120 * time.Millisecond,
		EndSendTimeout: 2 * time.Second,
		BytesPerSecond: audio.RenderFormat.BytesPerSecond(),
	}
}

func (t Tunables) withDefaults() Tunables {
	d := DefaultTunables()
	if t.BytesPerSecond <= 0 {
		t.BytesPerSecond = d.BytesPerSecond
	}
	if t.EndSendTimeout <= 0 {
		t.EndSendTimeout = d.EndSendTimeout
	}
	t.FallbackDelay = max(t.FallbackDelay, 0)
	t.SafetyMargin = max(t.SafetyMargin, 0)
	t.PreRoll = max(t.PreRoll, 0)
	return t
}

// Callbacks receive session events. They run in order on a goroutine owned
// by the session and may call [Session.End]. Nil fields are skipped.
type Callbacks struct {
	// OnTranscript is called whenever the utterance at index was created or
	// extended. u is its full text so far.
	OnTranscript func(index int, u Utterance)

	// OnMicState is called on every microphone transition.
	OnMicState func(open bool)

	// OnEnded is called exactly once, after teardown, for a session that
	// started successfully.
	OnEnded func(r EndReason)
}

// Option configures a [Session] created by [Start].
type Option func(*options)

type options struct {
	tunables  Tunables
	callbacks Callbacks
	clock     Clock
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// WithTunables overrides [DefaultTunables].
func WithTunables(t Tunables) Option {
	return func(o *options) { o.tunables = t }
}

// WithCallbacks registers event callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *options) { o.callbacks = cb }
}

// WithClock replaces the wall clock used for turn-taking timers.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics records session metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
