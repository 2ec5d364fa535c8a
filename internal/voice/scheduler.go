package voice

import "time"

// speakingState is the turn-taking state of a session. The mic is hot only in
// stateMicOpen.
type speakingState int

const (
	stateMicOpen speakingState = iota
	stateRemoteSpeaking
)

// timerKind names what the scheduler's single timer slot is armed for.
type timerKind int

const (
	timerNone timerKind = iota
	timerFallback
	timerComputed
)

func (k timerKind) String() string {
	switch k {
	case timerFallback:
		return "fallback"
	case timerComputed:
		return "computed"
	}
	return "none"
}

// slot is a re-armable one-shot timer. Arming or cancelling invalidates any
// fire already in flight: fires carry the generation they were armed with and
// [slot.take] rejects stale ones.
type slot struct {
	clock Clock
	fire  func(gen uint64)

	gen   uint64
	timer Timer
	armed bool
}

func (s *slot) arm(d time.Duration) {
	s.cancel()
	gen := s.gen
	s.armed = true
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
}

func (s *slot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
	s.gen++
}

// take consumes a fire. It reports false for stale or cancelled fires.
func (s *slot) take(gen uint64) bool {
	if !s.armed || gen != s.gen {
		return false
	}
	s.armed = false
	s.timer = nil
	return true
}

// scheduler decides when the microphone may reopen after the remote agent
// has spoken. It owns the speaking state and one timer slot that is armed
// either with the fallback delay (turn not yet complete) or with the computed
// remaining playback time plus a safety margin. It is driven exclusively by
// the session goroutine.
type scheduler struct {
	tun   Tunables
	clock Clock

	state        speakingState
	bytesFed     int64
	feedStart    time.Time
	turnComplete bool

	kind  timerKind
	timer slot
}

func newScheduler(tun Tunables, clock Clock, fire func(gen uint64)) *scheduler {
	return &scheduler{
		tun:   tun,
		clock: clock,
		timer: slot{clock: clock, fire: fire},
	}
}

// remoteAudio handles an arriving audio chunk. Any armed timer is cancelled.
// It reports true when the chunk closed the microphone.
func (s *scheduler) remoteAudio() bool {
	s.disarm()
	if s.state == stateRemoteSpeaking {
		return false
	}
	s.state = stateRemoteSpeaking
	s.bytesFed = 0
	s.feedStart = time.Time{}
	s.turnComplete = false
	return true
}

// fed records n bytes accepted by the render sink in a feed that began at
// start.
func (s *scheduler) fed(n int, start time.Time) {
	if s.feedStart.IsZero() {
		s.feedStart = start
	}
	s.bytesFed += int64(n)
}

// markTurnComplete records the end of the remote turn. It reports true when
// the armed timer, if any, should be re-evaluated.
func (s *scheduler) markTurnComplete() bool {
	if s.state != stateRemoteSpeaking {
		return false
	}
	s.turnComplete = true
	return s.kind != timerComputed
}

// drained arms the timer slot after the playback queue has emptied. It
// returns the kind and delay armed, or timerNone when the mic is already
// open.
func (s *scheduler) drained() (timerKind, time.Duration) {
	if s.state != stateRemoteSpeaking {
		return timerNone, 0
	}
	kind, d := timerFallback, s.tun.FallbackDelay
	if s.turnComplete {
		kind = timerComputed
		d = ResumeDelay(s.bytesFed, s.tun.BytesPerSecond, s.feedStart, s.clock.Now(), s.tun.SafetyMargin)
	}
	s.kind = kind
	s.timer.arm(d)
	return kind, d
}

// fired consumes a timer fire. It reports true when the mic reopened.
func (s *scheduler) fired(gen uint64) bool {
	if !s.timer.take(gen) {
		return false
	}
	s.kind = timerNone
	s.state = stateMicOpen
	s.bytesFed = 0
	s.feedStart = time.Time{}
	s.turnComplete = false
	return true
}

func (s *scheduler) disarm() {
	s.timer.cancel()
	s.kind = timerNone
}

// ResumeDelay returns how long to keep the microphone closed once all of a
// turn's audio has been handed to the render sink: the playback time of
// bytesFed not yet elapsed since feedStart, plus margin. A zero feedStart
// counts as no time elapsed.
func ResumeDelay(bytesFed int64, bytesPerSecond int, feedStart, now time.Time, margin time.Duration) time.Duration {
	var expected time.Duration
	if bytesPerSecond > 0 {
		expected = time.Duration(bytesFed * int64(time.Second) / int64(bytesPerSecond))
	}
	var elapsed time.Duration
	if !feedStart.IsZero() {
		elapsed = now.Sub(feedStart)
	}
	return max(expected-elapsed, 0) + margin
}
