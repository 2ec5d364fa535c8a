package voice

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// feedResult reports the outcome of one render sink call.
type feedResult struct {
	n     int
	start time.Time
	err   error
}

// feeder owns the playback queue. It coalesces everything queued into one
// large buffer per render call so the sink never underruns between small
// network chunks, and delays the first call of each turn by a pre-roll so a
// few chunks can accumulate. Like the scheduler it is driven only by the
// session goroutine; the render call itself runs on its own goroutine and
// reports back through post.
type feeder struct {
	sink    audio.RenderSink
	clock   Clock
	preRoll time.Duration
	post    func(feedResult)
	wg      sync.WaitGroup

	queue   [][]byte
	feeding bool
	primed  bool
	preroll slot
}

func newFeeder(sink audio.RenderSink, clock Clock, preRoll time.Duration, post func(feedResult), fire func(gen uint64)) *feeder {
	return &feeder{
		sink:    sink,
		clock:   clock,
		preRoll: preRoll,
		post:    post,
		preroll: slot{clock: clock, fire: fire},
	}
}

// beginTurn makes the next feed wait for the pre-roll again.
func (f *feeder) beginTurn() {
	f.primed = false
}

func (f *feeder) enqueue(chunk []byte) {
	f.queue = append(f.queue, chunk)
}

// pump starts a render call for everything queued, unless one is already in
// flight, the pre-roll is still running, or there is nothing to play.
func (f *feeder) pump(ctx context.Context) {
	if f.feeding || f.preroll.armed || len(f.queue) == 0 {
		return
	}
	if !f.primed && f.preRoll > 0 {
		f.preroll.arm(f.preRoll)
		return
	}
	f.primed = true

	size := 0
	for _, c := range f.queue {
		size += len(c)
	}
	buf := make([]byte, 0, size)
	for _, c := range f.queue {
		buf = append(buf, c...)
	}
	f.queue = nil
	f.feeding = true

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		start := f.clock.Now()
		err := f.sink.Feed(ctx, buf)
		f.post(feedResult{n: len(buf), start: start, err: err})
	}()
}

// prerollFired consumes a pre-roll timer fire. It reports true when the
// feeder is now primed and should be pumped.
func (f *feeder) prerollFired(gen uint64) bool {
	if !f.preroll.take(gen) {
		return false
	}
	f.primed = true
	return true
}

func (f *feeder) finished() {
	f.feeding = false
}

// idle reports whether the queue is drained with nothing in flight.
func (f *feeder) idle() bool {
	return !f.feeding && !f.preroll.armed && len(f.queue) == 0
}

// stop cancels the pre-roll and waits for an in-flight render call to
// return. The caller must already have cancelled the feed context.
func (f *feeder) stop() {
	f.preroll.cancel()
	f.queue = nil
	f.wg.Wait()
}
