package voice

import "sync"

// notifier delivers callbacks in order on a dedicated goroutine, so a
// callback may call back into the session (for example [Session.End])
// without blocking the dispatch loop.
type notifier struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) post(f func()) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, f)
	n.mu.Unlock()
	n.signal()
}

// close queues final as the last callback. done is closed after it ran.
func (n *notifier) close(final func()) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if final != nil {
		n.queue = append(n.queue, final)
	}
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, f := range batch {
			f()
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-n.wake
		}
	}
}
