// Package voice runs one duplex voice session against a remote conversational
// agent.
//
// A [Session] streams microphone audio to the agent while the microphone is
// open and plays the agent's audio replies through a render sink. While the
// agent speaks the microphone is gated shut; it reopens once playback has had
// time to finish, either at the computed end of the buffered audio plus a
// safety margin (after the agent signalled turn_complete) or after a
// fallback delay. Transcript fragments from both sides are merged into an
// ordered list of utterances.
//
// All turn-taking state is owned by a single dispatch goroutine. Channel
// receives, render feeds, capture frames and timers run on their own
// goroutines and post results to it.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/voicewire"
)

// State is the lifecycle state of a [Session].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EndCause says what terminated a session.
type EndCause string

const (
	EndLocal         EndCause = "local"
	EndRemote        EndCause = "remote"
	EndChannelClosed EndCause = "channel_closed"
	EndChannelError  EndCause = "channel_error"

	// EndRejected means the agent reported an error and closed the channel
	// before sending any audio, which is how the service refuses a session
	// after accepting the socket.
	EndRejected EndCause = "rejected"
)

// EndReason is passed to [Callbacks.OnEnded].
type EndReason struct {
	Cause EndCause

	// Err is the channel error for [EndChannelError].
	Err error

	// Message is the agent's error text for [EndRejected].
	Message string

	// RemoteDuration is the session length reported by the agent with
	// session_ended. Zero if not reported.
	RemoteDuration time.Duration

	// Elapsed is the locally measured time from activation to teardown.
	Elapsed time.Duration
}

// Params identify the conversation a session joins.
type Params struct {
	ConversationID string
	AgentID        string
}

// Deps are the collaborators a session drives. All fields are required.
type Deps struct {
	Capture audio.CaptureSource
	Render  audio.RenderSink
	Dialer  voicewire.Dialer
	Tokens  oauth2.TokenSource
}

func (d Deps) validate() error {
	var errs []error
	if d.Capture == nil {
		errs = append(errs, errors.New("capture source is required"))
	}
	if d.Render == nil {
		errs = append(errs, errors.New("render sink is required"))
	}
	if d.Dialer == nil {
		errs = append(errs, errors.New("dialer is required"))
	}
	if d.Tokens == nil {
		errs = append(errs, errors.New("token source is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("voice: invalid deps: %w", errors.Join(errs...))
	}
	return nil
}

type timerSource int

const (
	sourceScheduler timerSource = iota
	sourcePreRoll
)

type timerFire struct {
	src timerSource
	gen uint64
}

// Session is a live voice session. Create one with [Start].
type Session struct {
	id     string
	params Params
	// tun is owned by the dispatch goroutine once Start returns.
	tun    Tunables
	cb     Callbacks
	clock  Clock

	metrics *observe.Metrics
	log     *slog.Logger
	span    trace.Span

	// ctx is cancelled by teardown. It bounds every goroutine the session
	// starts.
	ctx    context.Context
	cancel context.CancelFunc

	capture audio.CaptureSource
	render  audio.RenderSink
	ch      voicewire.Channel
	frames  <-chan audio.AudioFrame

	state          atomic.Int32
	micOpen        atomic.Bool
	endSendTimeout atomic.Int64
	started time.Time

	gate   *captureGate
	sched  *scheduler
	feed   *feeder
	acc    Accumulator
	notify *notifier

	inbound  chan voicewire.Inbound
	feedDone chan feedResult
	timers   chan timerFire
	endReq   chan EndReason
	tunReq   chan Tunables

	// Owned by the dispatch goroutine.
	heardAudio bool
	rejectMsg  string

	workers  sync.WaitGroup
	endOnce  sync.Once
	tornDown bool
	closed   chan struct{}
}

// Start establishes a session: it obtains a credential, acquires the
// microphone, connects to the agent and opens the render sink, in that
// order. Any failure releases what was acquired and returns a *[StartError].
//
// ctx bounds setup only; the running session lives until [Session.End], a
// remote session_ended, or a channel failure.
func Start(ctx context.Context, p Params, d Deps, opts ...Option) (*Session, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	o := options{tunables: DefaultTunables()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &Session{
		id:       uuid.NewString(),
		params:   p,
		tun:      o.tunables.withDefaults(),
		cb:       o.callbacks,
		clock:    o.clock,
		metrics:  o.metrics,
		capture:  d.Capture,
		render:   d.Render,
		inbound:  make(chan voicewire.Inbound),
		feedDone: make(chan feedResult),
		timers:   make(chan timerFire),
		endReq:   make(chan EndReason),
		tunReq:   make(chan Tunables),
		closed:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	s.endSendTimeout.Store(int64(s.tun.EndSendTimeout))

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.ctx, s.span = observe.StartSpan(s.ctx, "voice.session", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("conversation.id", p.ConversationID),
		attribute.String("agent.id", p.AgentID),
	))
	s.log = observe.WithTrace(s.ctx, o.logger).With(
		"session_id", s.id,
		"conversation_id", p.ConversationID,
		"agent_id", p.AgentID,
	)

	if err := s.connect(ctx, d); err != nil {
		s.state.Store(int32(StateClosed))
		s.metrics.RecordStartFailure(ctx, string(err.Kind))
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, string(err.Kind))
		s.span.End()
		s.cancel()
		s.log.Warn("voice: session start failed", "kind", err.Kind, "err", err.Err)
		return nil, err
	}

	s.gate = newCaptureGate(s.ch, s.clock, s.metrics, s.log)
	s.sched = newScheduler(s.tun, s.clock, s.timerFunc(sourceScheduler))
	s.feed = newFeeder(s.render, s.clock, s.tun.PreRoll, s.postFeed, s.timerFunc(sourcePreRoll))
	s.notify = newNotifier()
	s.micOpen.Store(true)
	s.started = s.clock.Now()
	s.state.Store(int32(StateActive))
	s.metrics.ActiveSessions.Add(s.ctx, 1)

	s.workers.Add(2)
	go s.receiveLoop()
	go func() {
		defer s.workers.Done()
		s.gate.run(s.ctx, s.frames)
	}()

	go s.run()

	s.log.Info("voice: session active")
	return s, nil
}

// connect acquires the session's resources. On failure everything acquired
// so far is released.
func (s *Session) connect(ctx context.Context, d Deps) *StartError {
	tok, err := d.Tokens.Token()
	if err != nil {
		return startError(KindAuthFailure, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return startError(KindAuthFailure, errors.New("empty access token"))
	}

	frames, err := d.Capture.Start(s.ctx)
	if err != nil {
		return startError(KindPermissionDenied, err)
	}

	ch, err := d.Dialer.Dial(ctx, voicewire.ConnectRequest{
		ConversationID: s.params.ConversationID,
		AgentID:        s.params.AgentID,
		Token:          tok.AccessToken,
	})
	if err != nil {
		s.stopCapture()
		if errors.Is(err, voicewire.ErrUnauthorized) {
			return startError(KindAuthFailure, err)
		}
		return startError(KindConnectFailure, err)
	}

	if err := d.Render.Open(ctx, audio.RenderFormat); err != nil {
		s.stopCapture()
		if cerr := ch.Close(); cerr != nil {
			s.log.Debug("voice: close channel after render failure", "err", cerr)
		}
		return startError(KindRenderFailure, err)
	}

	s.ch = ch
	s.frames = frames
	return nil
}

// ID returns the generated session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// MicOpen reports whether capture is currently forwarded to the agent.
func (s *Session) MicOpen() bool { return s.micOpen.Load() }

// Transcript returns a copy of all utterances so far.
func (s *Session) Transcript() []Utterance { return s.acc.Snapshot() }

// Done is closed after teardown completed and [Callbacks.OnEnded] returned.
func (s *Session) Done() <-chan struct{} { return s.notify.done }

// End closes the session. It tells the agent the session is over (best
// effort, bounded by [Tunables.EndSendTimeout]) and tears down regardless of
// whether that succeeded. End is idempotent and safe for concurrent use; it
// returns once teardown has finished or ctx is done.
func (s *Session) End(ctx context.Context) error {
	select {
	case <-s.closed:
		return nil
	default:
	}

	s.endOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateActive), int32(StateEnding))
		s.gate.deactivate()

		sendCtx, cancel := context.WithTimeout(s.ctx, time.Duration(s.endSendTimeout.Load()))
		defer cancel()
		if err := s.ch.Send(sendCtx, voicewire.EndSessionMessage()); err != nil {
			s.log.Debug("voice: end_session not delivered", "err", err)
		}
	})

	select {
	case s.endReq <- EndReason{Cause: EndLocal}:
	case <-s.closed:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTunables replaces the turn-taking timings of a running session. Timers
// already armed keep their deadline; the new values apply from the next one.
// It is a no-op once the session has ended.
func (s *Session) SetTunables(t Tunables) {
	select {
	case s.tunReq <- t:
	case <-s.ctx.Done():
	}
}

// ── Dispatch loop ──────────────────────────────────────────────────────────

func (s *Session) run() {
	for !s.tornDown {
		select {
		case in := <-s.inbound:
			s.dispatch(in)
		case r := <-s.feedDone:
			s.onFeedDone(r)
		case t := <-s.timers:
			s.onTimer(t)
		case r := <-s.endReq:
			if r.Cause == EndChannelClosed && s.rejectMsg != "" {
				r = EndReason{Cause: EndRejected, Message: s.rejectMsg}
			}
			s.teardown(r)
		case t := <-s.tunReq:
			s.applyTunables(t)
		}
	}
}

func (s *Session) applyTunables(t Tunables) {
	t = t.withDefaults()
	s.tun = t
	s.sched.tun = t
	s.feed.preRoll = t.PreRoll
	s.endSendTimeout.Store(int64(t.EndSendTimeout))
	s.log.Debug("voice: tunables updated",
		"fallback_delay", t.FallbackDelay,
		"safety_margin", t.SafetyMargin,
		"pre_roll", t.PreRoll,
	)
}

func (s *Session) dispatch(in voicewire.Inbound) {
	s.metrics.RecordInbound(s.ctx, string(in.Kind))

	switch in.Kind {
	case voicewire.KindAudio:
		if len(in.Audio) == 0 {
			return
		}
		s.heardAudio = true
		s.rejectMsg = ""
		if s.sched.remoteAudio() {
			s.gate.setOpen(false)
			s.feed.beginTurn()
			s.setMic(false)
		}
		s.feed.enqueue(in.Audio)
		s.feed.pump(s.ctx)

	case voicewire.KindTurnComplete:
		if s.sched.markTurnComplete() && s.feed.idle() {
			s.evaluate()
		}

	case voicewire.KindTranscript:
		idx, ok := s.acc.Append(speakerForRole(in.Role), in.Text)
		if !ok {
			return
		}
		s.notifyTranscript(idx)

	case voicewire.KindError:
		msg := in.Message
		if msg == "" {
			msg = "The voice service reported an error."
		}
		s.log.Warn("voice: remote error", "message", in.Message)
		if !s.heardAudio && s.rejectMsg == "" {
			s.rejectMsg = msg
		}
		s.notifyTranscript(s.acc.Note(msg))

	case voicewire.KindSessionEnded:
		s.teardown(EndReason{
			Cause:          EndRemote,
			RemoteDuration: time.Duration(in.DurationMinutes * float64(time.Minute)),
		})

	case voicewire.KindPing:
	}
}

func (s *Session) onFeedDone(r feedResult) {
	s.feed.finished()
	s.metrics.RecordFeed(s.ctx, r.n, r.err)
	if r.err != nil {
		s.log.Warn("voice: render feed failed", "bytes", r.n, "err", r.err)
	} else {
		s.sched.fed(r.n, r.start)
	}
	s.feed.pump(s.ctx)
	s.evaluate()
}

func (s *Session) onTimer(t timerFire) {
	switch t.src {
	case sourcePreRoll:
		if s.feed.prerollFired(t.gen) {
			s.feed.pump(s.ctx)
		}
	case sourceScheduler:
		if s.sched.fired(t.gen) {
			s.gate.setOpen(true)
			s.setMic(true)
		}
	}
}

// evaluate arms the scheduler once playback has drained.
func (s *Session) evaluate() {
	if !s.feed.idle() {
		return
	}
	kind, d := s.sched.drained()
	if kind == timerNone {
		return
	}
	s.metrics.RecordResumeDelay(s.ctx, kind.String(), d)
	s.log.Debug("voice: playback drained", "timer", kind.String(), "delay", d)
}

func (s *Session) setMic(open bool) {
	s.micOpen.Store(open)
	s.metrics.RecordMicTransition(s.ctx, open)
	s.log.Debug("voice: mic state", "open", open)
	if cb := s.cb.OnMicState; cb != nil {
		s.notify.post(func() { cb(open) })
	}
}

func (s *Session) notifyTranscript(idx int) {
	if cb := s.cb.OnTranscript; cb != nil {
		u := s.acc.At(idx)
		s.notify.post(func() { cb(idx, u) })
	}
}

// ── Workers ────────────────────────────────────────────────────────────────

func (s *Session) receiveLoop() {
	defer s.workers.Done()
	for {
		in, err := s.ch.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			r := EndReason{Cause: EndChannelError, Err: err}
			if errors.Is(err, voicewire.ErrClosed) {
				r = EndReason{Cause: EndChannelClosed}
			}
			select {
			case s.endReq <- r:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case s.inbound <- in:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) postFeed(r feedResult) {
	select {
	case s.feedDone <- r:
	case <-s.ctx.Done():
	}
}

func (s *Session) timerFunc(src timerSource) func(gen uint64) {
	return func(gen uint64) {
		select {
		case s.timers <- timerFire{src: src, gen: gen}:
		case <-s.ctx.Done():
		}
	}
}

// ── Teardown ───────────────────────────────────────────────────────────────

// teardown releases everything exactly once. It runs on the dispatch
// goroutine.
func (s *Session) teardown(r EndReason) {
	if s.tornDown {
		return
	}
	s.tornDown = true
	s.state.Store(int32(StateEnding))

	s.cancel()
	s.gate.deactivate()
	s.sched.disarm()
	s.feed.stop()

	s.stopCapture()
	if err := s.render.Close(); err != nil {
		s.log.Warn("voice: close render sink", "err", err)
	}
	if err := s.ch.CloseSend(); err != nil {
		s.log.Debug("voice: close send", "err", err)
	}
	if err := s.ch.Close(); err != nil {
		s.log.Debug("voice: close channel", "err", err)
	}
	s.workers.Wait()

	r.Elapsed = s.clock.Now().Sub(s.started)
	s.micOpen.Store(false)
	s.state.Store(int32(StateClosed))

	// The session ctx is cancelled; record against a live one.
	mctx := context.WithoutCancel(s.ctx)
	s.metrics.ActiveSessions.Add(mctx, -1)
	s.metrics.RecordSessionEnd(mctx, string(r.Cause), r.Elapsed)
	if r.Err != nil {
		s.span.RecordError(r.Err)
		s.span.SetStatus(codes.Error, string(r.Cause))
	}
	s.span.SetAttributes(attribute.String("end.cause", string(r.Cause)))
	s.span.End()

	s.log.Info("voice: session ended",
		"cause", r.Cause,
		"elapsed", r.Elapsed,
		"remote_duration", r.RemoteDuration,
		"utterances", s.acc.Len(),
	)

	close(s.closed)
	var final func()
	if cb := s.cb.OnEnded; cb != nil {
		final = func() { cb(r) }
	}
	s.notify.close(final)
}

func (s *Session) stopCapture() {
	if err := s.capture.Stop(); err != nil {
		s.log.Debug("voice: stop capture", "err", err)
	}
}
