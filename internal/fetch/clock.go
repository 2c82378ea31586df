package fetch

import "sync/atomic"

// Clock hands out admission sequence numbers.
//
// Every element entering the queue is stamped from one Clock, so seq order
// is admission order within a single worker run.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
