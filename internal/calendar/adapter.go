// Package calendar converts between UTC storage and an object's local time
// zone and working calendar.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/logging"
)

// DefaultTimeZone is used when an object's zone is missing or invalid.
const DefaultTimeZone = "Europe/Moscow"

// Settings is the calendar view of a cleaning object.
type Settings struct {
	TimeZone     string
	WorkingHours WorkingHours
	WorkingDays  Weekdays
}

type zoneEntry struct {
	loc   *time.Location
	valid bool
}

// Adapter resolves object zones and projects instants into local time.
type Adapter struct {
	fallback *time.Location
	logger   *zap.Logger
	warnings *warningCache

	mu    sync.RWMutex
	zones map[string]zoneEntry
}

// NewAdapter constructs an Adapter with the given fallback zone name. An empty
// name selects DefaultTimeZone.
func NewAdapter(fallbackZone string, logger *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(fallbackZone) == "" {
		fallbackZone = DefaultTimeZone
	}
	loc, err := time.LoadLocation(fallbackZone)
	if err != nil {
		return nil, fmt.Errorf("calendar: load fallback zone %q: %w", fallbackZone, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		fallback: loc,
		logger:   logger,
		warnings: newWarningCache(10*time.Minute, 256, nil),
		zones:    make(map[string]zoneEntry),
	}, nil
}

// Fallback returns the zone used for objects with unusable zone strings.
func (a *Adapter) Fallback() *time.Location {
	return a.fallback
}

// Location returns the object's zone. Unknown or empty zone names resolve to
// the fallback zone and are reported as a data-quality warning; this never
// fails.
func (a *Adapter) Location(ctx context.Context, objectID, tz string) *time.Location {
	name := strings.TrimSpace(tz)

	a.mu.RLock()
	entry, ok := a.zones[name]
	a.mu.RUnlock()

	if !ok {
		entry = a.load(name)
		a.mu.Lock()
		a.zones[name] = entry
		a.mu.Unlock()
	}
	if entry.valid {
		return entry.loc
	}

	if a.warnings.ShouldWarn(objectID + "|" + name) {
		logger := logging.FromContext(ctx)
		if logger == nil {
			logger = a.logger
		}
		logger.Warn("object time zone could not be resolved, using fallback",
			zap.String("kind", "data_quality"),
			zap.String("object_id", objectID),
			zap.String("time_zone", name),
			zap.String("fallback", a.fallback.String()),
		)
	}
	return a.fallback
}

func (a *Adapter) load(name string) zoneEntry {
	if name == "" || strings.EqualFold(name, "local") {
		return zoneEntry{loc: a.fallback}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return zoneEntry{loc: a.fallback}
	}
	return zoneEntry{loc: loc, valid: true}
}

// LocalNow projects now into the object's zone.
func (a *Adapter) LocalNow(ctx context.Context, objectID string, settings Settings, now time.Time) time.Time {
	return now.In(a.Location(ctx, objectID, settings.TimeZone))
}

// Today returns the object's local calendar date at now.
func (a *Adapter) Today(ctx context.Context, objectID string, settings Settings, now time.Time) Date {
	return DateOf(now, a.Location(ctx, objectID, settings.TimeZone))
}

// IsWorkingDay reports whether date is a configured working day. An empty set
// means every day is working.
func IsWorkingDay(date Date, days Weekdays) bool {
	return days.Contains(date.Weekday())
}

// IsWorkingTime reports whether instant falls inside [start, end) of the local
// working hours. Unset working hours cover the whole day.
func IsWorkingTime(instant time.Time, hours WorkingHours, loc *time.Location) bool {
	start, end := hours.Span()
	c := ClockOf(instant, loc)
	return c >= start && c < end
}

// NextWorkingDay returns the first working day strictly after date.
func NextWorkingDay(date Date, days Weekdays) Date {
	next := date.AddDays(1)
	for i := 0; i < 7 && !IsWorkingDay(next, days); i++ {
		next = next.AddDays(1)
	}
	return next
}

// Instant converts a local date and time of day to a UTC instant. EndOfDay maps
// to midnight of the following day.
func Instant(date Date, clock Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	minutes := clock.Minutes()
	return time.Date(date.Year, date.Month, date.Day, minutes/60, minutes%60, 0, 0, loc).UTC()
}
