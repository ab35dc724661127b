package trace

import "sync/atomic"

// Clock is a per-run logical clock. Each operation is allocated the
// half-open interval [t, t+1), so start times are strictly increasing in
// emission order and wall-clock timing never leaks into the trace.
//
// Clock is safe for concurrent use, but a run emits from one goroutine.
type Clock struct {
	t atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific tick.
// Used to continue an order's trace after its last recorded span.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.t.Store(start)
	return c
}

// Tick allocates the next interval and advances the clock.
func (c *Clock) Tick() (start, end int64) {
	end = c.t.Add(1)
	return end - 1, end
}

// Current returns the start of the next interval without advancing.
func (c *Clock) Current() int64 {
	return c.t.Load()
}
