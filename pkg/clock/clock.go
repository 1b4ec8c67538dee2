// Package clock is the time source used by the cache for TTL bookkeeping.
//
// Expiry timestamps are kept in whole seconds, so the Clock interface only
// needs to answer "what second is it now". Tests replace the system clock
// with a Simulated clock to move time forward deterministically.
package clock

import (
	"math"
	"sync"
	"time"
)

// Seconds is a point in time or a duration, in whole seconds.
type Seconds int64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// FromDuration converts d to Seconds, truncating sub-second precision.
func FromDuration(d time.Duration) Seconds {
	return Seconds(d / time.Second)
}

// Clock supplies the current time in seconds.
type Clock interface {
	Now() Seconds
}

// System implements Clock using the wall clock.
type System struct{}

// Now returns the current Unix time rounded to the nearest second.
func (System) Now() Seconds {
	return FromTime(time.Now())
}

// FromTime converts t to Unix seconds, rounding half away from zero.
func FromTime(t time.Time) Seconds {
	return Seconds(math.Round(float64(t.UnixMilli()) / 1000))
}

// Simulated is a manually driven Clock. The zero value starts at 0 and is
// ready to use.
type Simulated struct {
	mu  sync.Mutex
	now Seconds
}

// NewSimulated returns a Simulated clock set to start.
func NewSimulated(start Seconds) *Simulated {
	return &Simulated{now: start}
}

// Now returns the simulated time.
func (s *Simulated) Now() Seconds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Set moves the clock to t. Moving backwards is allowed.
func (s *Simulated) Set(t Seconds) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (s *Simulated) Advance(d Seconds) Seconds {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
	return s.now
}
