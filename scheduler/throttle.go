package scheduler

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle admits at most one call per interval. Calls inside the cooldown are
// dropped, never queued.
type Throttle struct {
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewThrottle creates a throttle with the given cooldown.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Interval returns the cooldown.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Allow reports whether a call may proceed now, consuming the slot if so.
func (t *Throttle) Allow() bool {
	if t.interval <= 0 {
		return true
	}
	return t.limiter.AllowN(t.now(), 1)
}
