package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNegativeSeq is returned when a journal reports a seq below zero.
var ErrNegativeSeq = errors.New("journal seq is negative")

// Clock stamps phase begin and end with logical seqs. Only the simulation
// goroutine advances it; observers and the CLI may read it from anywhere.
type Clock struct {
	start int64
	seq   atomic.Int64
}

// NewClock creates a clock whose first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// ResumeClock creates a clock whose first seq follows last, the highest
// seq a journal recorded, so phases of a new run sort after the old ones.
func ResumeClock(last int64) (*Clock, error) {
	if last < 0 {
		return nil, fmt.Errorf("resume clock at %d: %w", last, ErrNegativeSeq)
	}
	c := &Clock{start: last}
	c.seq.Store(last)
	return c, nil
}

func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out, or the resume point.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Issued returns how many seqs this clock handed out. Every completed
// phase takes two.
func (c *Clock) Issued() int64 {
	return c.seq.Load() - c.start
}
