package engine

import "sync/atomic"

// Clock hands out the sequence numbers stamped on recorded sessions and
// steps. Records sort by seq, never by wall-clock time, so traces replay
// in a stable order.
//
// Clock is safe for concurrent use; sessions sharing one recorder should
// share one Clock.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock continuing after start, typically the
// highest seq already present in a trace database.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
