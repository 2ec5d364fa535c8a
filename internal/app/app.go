// Package app wires the voxgate subsystems into a running application.
//
// The App struct owns the full lifecycle: New resolves credentials, the
// channel dialer and the audio devices from the config, and Run starts the
// voice session (retrying transient connect failures), serves the ops
// endpoints, and writes the consolidated transcript once the session ends.
//
// For testing, inject mock implementations via functional options
// (WithDialer, WithCapture, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/auth"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/voice"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/voicewire"
	"github.com/MrWong99/voxgate/pkg/voicewire/ws"
)

// ErrSessionLost is returned by [App.Run] when the channel to the voice
// service closed or failed underneath a running session.
var ErrSessionLost = errors.New("app: voice session lost")

// ErrSessionRejected is returned by [App.Run] when the voice service accepted
// the connection but refused the session before any audio was exchanged.
var ErrSessionRejected = errors.New("app: voice session rejected")

const (
	// endTimeout bounds [voice.Session.End] when Run is cancelled.
	endTimeout = 5 * time.Second

	// opsShutdownTimeout bounds the graceful shutdown of the ops server.
	opsShutdownTimeout = 5 * time.Second
)

// App owns the lifetime of one voice session and its supporting services.
type App struct {
	cfg *config.Config

	dialer   voicewire.Dialer
	tokens   oauth2.TokenSource
	capture  audio.CaptureSource
	render   audio.RenderSink
	registry *config.Registry

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	sessionOpts    []voice.Option
	sleep          func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	tunables voice.Tunables
	session  *voice.Session
	ended    voice.EndReason
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a channel dialer instead of creating a WebSocket one.
func WithDialer(d voicewire.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithTokenSource injects a credential source instead of building one from
// the auth section.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(a *App) { a.tokens = ts }
}

// WithCapture injects the capture device.
func WithCapture(c audio.CaptureSource) Option {
	return func(a *App) { a.capture = c }
}

// WithRender injects the playback device.
func WithRender(r audio.RenderSink) Option {
	return func(a *App) { a.render = r }
}

// WithRegistry resolves audio drivers through reg instead of [NewRegistry].
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics on the ops server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets [App.ApplyConfigDiff] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithSessionOptions appends options passed to every [voice.Start] call.
func WithSessionOptions(opts ...voice.Option) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Dependencies not injected through opts are
// built from the config: a WebSocket dialer for the channel section, a token
// source for the auth section, and capture and render devices from the audio
// section via the driver registry.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		tunables: tunablesFromConfig(cfg.TurnTaking),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = NewRegistry()
	}

	if a.dialer == nil {
		a.dialer = ws.New(cfg.Channel.BaseURL,
			ws.WithKeepaliveInterval(cfg.Channel.KeepaliveInterval),
			ws.WithDialTimeout(cfg.Channel.DialTimeout),
		)
	}

	if a.tokens == nil {
		ts, err := auth.NewTokenSource(ctx, cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("app: init auth: %w", err)
		}
		a.tokens = ts
	}

	if a.capture == nil {
		c, err := a.registry.CreateCapture(cfg.Audio.Capture)
		if err != nil {
			return nil, fmt.Errorf("app: init capture: %w", err)
		}
		a.capture = c
	}
	if a.render == nil {
		r, err := a.registry.CreateRender(cfg.Audio.Render)
		if err != nil {
			return nil, fmt.Errorf("app: init render: %w", err)
		}
		a.render = r
	}

	return a, nil
}

func tunablesFromConfig(tt config.TurnTakingConfig) voice.Tunables {
	t := voice.DefaultTunables()
	t.FallbackDelay = tt.FallbackDelay
	t.SafetyMargin = tt.SafetyMargin
	t.PreRoll = tt.PreRoll
	t.EndSendTimeout = tt.EndSendTimeout
	return t
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the voice session and blocks until it ends. Cancelling ctx ends
// the session locally. The ops server, when configured, runs alongside the
// session and stops with it.
//
// Run returns the *[voice.StartError] when the session could not be started,
// [ErrSessionLost] when the channel dropped, [ErrSessionRejected] when the
// service refused the session, and nil for a local or remote end.
func (a *App) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.OpsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), opsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer stop()
		return a.supervise(gctx)
	})

	return g.Wait()
}

// supervise owns a single session from start to transcript export.
func (a *App) supervise(ctx context.Context) error {
	sess, err := a.startWithRetry(ctx)
	if err != nil {
		return err
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTimeout)
		defer cancel()
		if err := sess.End(endCtx); err != nil {
			slog.Warn("end voice session", "session_id", sess.ID(), "err", err)
		}
		select {
		case <-sess.Done():
		case <-endCtx.Done():
		}
	}

	reason := a.EndReason()
	if path := a.cfg.Transcript.OutputPath; path != "" {
		if err := WriteTranscript(path, a.record(sess, reason)); err != nil {
			slog.Error("write transcript", "path", path, "err", err)
		} else {
			slog.Info("transcript written", "path", path)
		}
	}

	switch reason.Cause {
	case voice.EndRejected:
		return fmt.Errorf("%w: %s", ErrSessionRejected, reason.Message)
	case voice.EndChannelClosed, voice.EndChannelError:
		if reason.Err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSessionLost, reason.Cause, reason.Err)
		}
		return fmt.Errorf("%w: %s", ErrSessionLost, reason.Cause)
	}
	return nil
}

// startSession performs one [voice.Start] with the current tunables.
func (a *App) startSession(ctx context.Context) (*voice.Session, error) {
	a.mu.Lock()
	tun := a.tunables
	a.mu.Unlock()

	opts := []voice.Option{
		voice.WithTunables(tun),
		voice.WithMetrics(a.metrics),
		voice.WithCallbacks(a.callbacks()),
	}
	opts = append(opts, a.sessionOpts...)

	sess, err := voice.Start(ctx, voice.Params{
		ConversationID: a.cfg.Session.ConversationID,
		AgentID:        a.cfg.Session.AgentID,
	}, voice.Deps{
		Capture: a.capture,
		Render:  a.render,
		Dialer:  a.dialer,
		Tokens:  a.tokens,
	}, opts...)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.session = sess
	latest := a.tunables
	a.mu.Unlock()
	// A reload may have landed while Start was running.
	if latest != tun {
		sess.SetTunables(latest)
	}
	return sess, nil
}

func (a *App) callbacks() voice.Callbacks {
	return voice.Callbacks{
		OnTranscript: func(index int, u voice.Utterance) {
			slog.Debug("transcript", "index", index, "speaker", u.Speaker, "text", u.Text)
		},
		OnMicState: func(open bool) {
			slog.Debug("microphone", "open", open)
		},
		OnEnded: func(r voice.EndReason) {
			a.mu.Lock()
			a.ended = r
			a.mu.Unlock()
			attrs := []any{"cause", r.Cause, "elapsed", r.Elapsed}
			if r.RemoteDuration > 0 {
				attrs = append(attrs, "remote_duration", r.RemoteDuration)
			}
			if r.Err != nil {
				attrs = append(attrs, "err", r.Err)
			}
			slog.Info("voice session ended", attrs...)
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// SessionState returns the state of the current session, or
// [voice.StateIdle] before one was started.
func (a *App) SessionState() voice.State {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()
	if sess == nil {
		return voice.StateIdle
	}
	return sess.State()
}

// EndReason returns how the last session ended. It is the zero value while a
// session is still running.
func (a *App) EndReason() voice.EndReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ended
}

// Tunables returns the turn-taking timings the next session will use.
func (a *App) Tunables() voice.Tunables {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tunables
}

// ─── Ops server ──────────────────────────────────────────────────────────────

// OpsHandler returns the handler for /healthz, /readyz and /metrics, wrapped
// in the request instrumentation middleware.
func (a *App) OpsHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(
		health.StateChecker("session", a.SessionState, voice.StateActive),
	).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfigDiff applies the hot-reloadable parts of a changed config. It
// has the signature expected by [config.NewWatcher].
func (a *App) ApplyConfigDiff(d config.ConfigDiff, _ *config.Config) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TurnTakingChanged {
		tun := tunablesFromConfig(d.NewTurnTaking)
		a.mu.Lock()
		a.tunables = tun
		sess := a.session
		a.mu.Unlock()
		if sess != nil {
			sess.SetTunables(tun)
		}
		slog.Info("turn-taking timings updated",
			"fallback_delay", d.NewTurnTaking.FallbackDelay,
			"safety_margin", d.NewTurnTaking.SafetyMargin,
			"pre_roll", d.NewTurnTaking.PreRoll,
		)
	}
}
