package bot

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nazuninha/wabot/internal/metrics"
)

// pendingReplies owns the delayed replies scheduled for one session. A
// reply belongs to the connection generation it was scheduled under;
// cancelling a generation (connection drop) or the whole set (session stop)
// blocks until every in-flight fire has completed, so a caller observing
// the return is guaranteed no further sends for the session.
type pendingReplies struct {
	clock clockwork.Clock

	mu       sync.Mutex
	closed   bool
	cancelCh chan struct{} // current generation; rotated on disconnect
	wg       sync.WaitGroup
}

func newPendingReplies(clock clockwork.Clock) *pendingReplies {
	return &pendingReplies{
		clock:    clock,
		cancelCh: make(chan struct{}),
	}
}

// Schedule arranges for fire to run after delay unless the current
// generation is cancelled first. Returns false if the session is already
// tearing down.
func (p *pendingReplies) Schedule(delay time.Duration, fire func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	generation := p.cancelCh
	timer := p.clock.NewTimer(delay)
	p.wg.Add(1)
	p.mu.Unlock()

	metrics.PendingReplies.Inc()

	go func() {
		defer p.wg.Done()
		defer metrics.PendingReplies.Dec()

		select {
		case <-timer.Chan():
		case <-generation:
			timer.Stop()
			return
		}

		p.mu.Lock()
		cancelled := p.closed || generation != p.cancelCh
		p.mu.Unlock()
		if cancelled {
			return
		}

		fire()
	}()
	return true
}

// CancelGeneration cancels every reply of the current connection and opens
// a fresh generation for the next one. Blocks until in-flight fires finish.
func (p *pendingReplies) CancelGeneration() {
	p.cancel(false)
}

// CancelAll cancels everything and permanently closes the set. Safe to call
// more than once.
func (p *pendingReplies) CancelAll() {
	p.cancel(true)
}

func (p *pendingReplies) cancel(permanent bool) {
	p.mu.Lock()
	if !p.closed {
		close(p.cancelCh)
		if permanent {
			p.closed = true
		} else {
			p.cancelCh = make(chan struct{})
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
}
