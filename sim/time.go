package sim

import (
	"fmt"
	"math"
)

// Time is a signed count of nanoseconds since simulation start.
// Every timestamp and duration in the kernel uses this unit.
type Time int64

const (
	Nanosecond  Time = 1
	Microsecond      = 1000 * Nanosecond
	Millisecond      = 1000 * Microsecond
	Second           = 1000 * Millisecond
	Minute           = 60 * Second
	Hour             = 60 * Minute
	Day              = 24 * Hour
)

const (
	// MaxTime is the largest schedulable time.
	MaxTime Time = math.MaxInt64 - 1
	// Infinity is the "no bound" sentinel: an empty queue's earliest time,
	// an empty lookahead tracker's minimum commitment.
	Infinity Time = math.MaxInt64
)

// Add returns t+d, saturating at Infinity instead of overflowing.
func (t Time) Add(d Time) Time {
	if t == Infinity || d == Infinity {
		return Infinity
	}
	if d > 0 && t > Infinity-d {
		return Infinity
	}
	return t + d
}

// IsInfinite reports whether t is the Infinity sentinel.
func (t Time) IsInfinite() bool { return t == Infinity }

// String renders t in the largest unit that divides it evenly.
func (t Time) String() string {
	switch {
	case t == Infinity:
		return "inf"
	case t == 0:
		return "0s"
	case t%Second == 0:
		return fmt.Sprintf("%ds", int64(t/Second))
	case t%Millisecond == 0:
		return fmt.Sprintf("%dms", int64(t/Millisecond))
	case t%Microsecond == 0:
		return fmt.Sprintf("%dus", int64(t/Microsecond))
	}
	return fmt.Sprintf("%dns", int64(t))
}

// Earlier returns the smaller of a and b.
func Earlier(a, b Time) Time {
	if a < b {
		return a
	}
	return b
}

// Later returns the larger of a and b.
func Later(a, b Time) Time {
	if a > b {
		return a
	}
	return b
}
