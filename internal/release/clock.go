package release

import "sync/atomic"

// Clock is a monotonic logical clock for ledger ordering.
//
// Every ledger entry written during an attempt is stamped with a
// strictly increasing seq from this clock, so the ledger reads back in
// the order things happened even when a phase promotes concurrently and
// wall-clock timestamps collide.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
