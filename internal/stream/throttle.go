package stream

import (
	"context"
	"sync/atomic"
)

// Throttle bounds the number of sample requests in flight across the whole
// run. Permits are modeled as slots in a buffered channel.
type Throttle struct {
	permits chan struct{}
}

// NewThrottle creates a gate admitting at most n concurrent holders.
func NewThrottle(n int) *Throttle {
	if n < 1 {
		n = 1
	}
	return &Throttle{permits: make(chan struct{}, n)}
}

// Acquire blocks until a permit is free or the context is cancelled.
func (t *Throttle) Acquire(ctx context.Context) error {
	select {
	case t.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a previously acquired permit.
func (t *Throttle) Release() {
	<-t.permits
}

// EndSignal is the one-shot end-of-stream flag shared by every fetch. The
// zero value is ready to use. Set is idempotent and never reset; fetches
// that observe it short-circuit without issuing a request.
type EndSignal struct {
	done atomic.Bool
}

// Set marks the stream as ended.
func (e *EndSignal) Set() {
	e.done.Store(true)
}

// Reached reports whether the stream has ended.
func (e *EndSignal) Reached() bool {
	return e.done.Load()
}
