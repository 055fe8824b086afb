package testfixtures

import (
	"sync"
	"time"
)

// referenceTime is Thursday 2024-03-14 10:30 in Europe/Moscow, inside the
// default 08:00-20:00 working hours of NewObject.
var referenceTime = time.Date(2024, time.March, 14, 7, 30, 0, 0, time.UTC)

// ReferenceTime returns the canonical "now" used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Clock is a settable time source for services under test.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now for constructor injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// SetLocal moves the clock to the wall time hour:minute on the given day in
// zone. Unknown zones panic; fixtures only use real zone names.
func (c *Clock) SetLocal(zone string, year int, month time.Month, day, hour, minute int) time.Time {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		panic(err)
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, loc).UTC()
	c.Set(t)
	return t
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
