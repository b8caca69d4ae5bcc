// Package backoff computes how long a worker waits before a failed job
// becomes claimable again.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait after the given failed attempt (1-indexed).
	Delay(attempt int) time.Duration
}

// Exponential waits Base^attempt units.
// Delay = min(Unit * Base^attempt, Max).
type Exponential struct {
	Base float64
	Unit time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential strategy without an upper bound.
func NewExponential(base float64, unit time.Duration) *Exponential {
	return &Exponential{Base: base, Unit: unit}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	f := float64(e.Unit) * math.Pow(e.Base, float64(attempt))
	d := time.Duration(math.MaxInt64)
	if f < math.MaxInt64 {
		d = time.Duration(f)
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }
