package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidClock indicates an HH:mm value could not be parsed.
var ErrInvalidClock = errors.New("calendar: invalid time of day")

// Clock is a local time of day in minutes since midnight. EndOfDay (24:00) is
// a valid value and is used as an exclusive upper bound.
type Clock int

const (
	StartOfDay Clock = 0
	EndOfDay   Clock = 24 * 60
)

// ParseClock parses HH:mm (24:00 allowed).
func ParseClock(value string) (Clock, error) {
	value = strings.TrimSpace(value)
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	if hours < 0 || minutes < 0 || minutes > 59 || hours > 24 || (hours == 24 && minutes != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	return Clock(hours*60 + minutes), nil
}

// MustClock is ParseClock for constants; it panics on malformed input.
func MustClock(value string) Clock {
	c, err := ParseClock(value)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the local time of day of instant in loc.
func ClockOf(instant time.Time, loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	local := instant.In(loc)
	return Clock(local.Hour()*60 + local.Minute())
}

func (c Clock) Minutes() int {
	return int(c)
}

// String formats the clock as HH:mm.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// WorkingHours is the local working window of an object. The zero value means
// working hours are not configured.
type WorkingHours struct {
	Start Clock
	End   Clock
}

// ParseWorkingHours parses start and end HH:mm strings. Two empty strings
// yield unset working hours.
func ParseWorkingHours(start, end string) (WorkingHours, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return WorkingHours{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return WorkingHours{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return WorkingHours{}, err
	}
	if e <= s {
		return WorkingHours{}, fmt.Errorf("%w: working hours end %s is not after start %s", ErrInvalidClock, e, s)
	}
	return WorkingHours{Start: s, End: e}, nil
}

// IsSet reports whether a non-empty working window is configured.
func (h WorkingHours) IsSet() bool {
	return h.End > h.Start
}

// Span returns the configured window, or the whole day when unset.
func (h WorkingHours) Span() (Clock, Clock) {
	if !h.IsSet() {
		return StartOfDay, EndOfDay
	}
	return h.Start, h.End
}
