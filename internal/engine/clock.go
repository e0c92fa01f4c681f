package engine

import "sync/atomic"

// Clock issues increasing sequence numbers. Agenda order among equal
// saliences and the order of journaled operations both come from a Clock,
// never from wall time.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first Next is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued or observed sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe records that seq was issued elsewhere, so Next never reissues it.
// Observing a number at or below Current has no effect.
func (c *Clock) Observe(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
