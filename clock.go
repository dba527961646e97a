package antler

import "sync/atomic"

// Clock is a monotonic logical clock for event ordering.
//
// Every fact mutation, activation, and firing inside a session is stamped
// with a strictly increasing sequence number from this clock. Ordering is
// never derived from wall-clock time: the sequence is what makes conflict
// resolution and trace output deterministic.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though a session's single-writer model means only one goroutine
// typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
