package engine

import (
	"context"
	"sync"
	"time"
)

// CancelSignal is the cooperative cancellation surface shared by the
// request sender, the stream reader, retry sleeps, and tool dispatch.
// Raising it is idempotent; it stays raised until Lower is called at the
// next turn boundary. Consumers either poll Raised, block via
// WaitOrRaised, or select on Done.
type CancelSignal struct {
	mu     sync.Mutex
	ch     chan struct{}
	raised bool
}

// NewCancelSignal returns a lowered signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Raise flips the signal. Safe to call from any goroutine, any number of
// times.
func (c *CancelSignal) Raise() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raised {
		return
	}
	c.raised = true
	close(c.ch)
}

// Lower re-arms the signal. Called at the turn boundary, never while a
// turn is in flight.
func (c *CancelSignal) Lower() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.raised {
		return
	}
	c.raised = false
	c.ch = make(chan struct{})
}

// Raised reports whether the signal has been raised.
func (c *CancelSignal) Raised() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raised
}

// Done returns a channel closed when the signal is raised. The channel is
// only valid until the next Lower.
func (c *CancelSignal) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// WaitOrRaised sleeps for d or until the signal is raised, whichever
// comes first. It reports whether the signal was raised.
func (c *CancelSignal) WaitOrRaised(d time.Duration) bool {
	if c.Raised() {
		return true
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.Done():
		return true
	case <-timer.C:
		return c.Raised()
	}
}

// Bind derives a context cancelled when either the parent is done or the
// signal is raised. Callers must invoke the returned CancelFunc to
// release the watcher goroutine.
func (c *CancelSignal) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
