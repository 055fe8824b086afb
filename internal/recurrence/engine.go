package recurrence

import (
	"errors"
	"fmt"

	"github.com/example/cleaning-scheduler/internal/calendar"
)

// DefaultMaxSpanDays bounds a single expansion so generation stays cheap
// enough for a request.
const DefaultMaxSpanDays = 62

var (
	// ErrInvalidFrequency indicates the rule kind is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidWindow indicates the requested range is empty or reversed.
	ErrInvalidWindow = errors.New("recurrence: generation window requires from <= to")
	// ErrRangeTooWide indicates the requested range exceeds the engine bound.
	ErrRangeTooWide = errors.New("recurrence: generation window is too wide")
)

// Anchor fixes the cadence origin of a card. EVERY_N_DAYS counts from the last
// execution when known, otherwise from creation. No date before Created fires.
type Anchor struct {
	Created       calendar.Date
	LastExecution *calendar.Date
}

func (a Anchor) base() calendar.Date {
	if a.LastExecution != nil && !a.LastExecution.IsZero() {
		return *a.LastExecution
	}
	return a.Created
}

// Engine expands rules into the calendar dates they fire on.
type Engine struct {
	maxSpanDays int
}

// NewEngine constructs an Engine. maxSpanDays <= 0 selects DefaultMaxSpanDays.
func NewEngine(maxSpanDays int) *Engine {
	if maxSpanDays <= 0 {
		maxSpanDays = DefaultMaxSpanDays
	}
	return &Engine{maxSpanDays: maxSpanDays}
}

// MaxSpanDays returns the inclusive range bound in days.
func (e *Engine) MaxSpanDays() int {
	if e == nil || e.maxSpanDays <= 0 {
		return DefaultMaxSpanDays
	}
	return e.maxSpanDays
}

// ValidateRange checks that [from, to] is ordered and bounded.
func (e *Engine) ValidateRange(from, to calendar.Date) error {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return ErrInvalidWindow
	}
	if span := to.DaysSince(from) + 1; span > e.MaxSpanDays() {
		return fmt.Errorf("%w: %d days requested, at most %d allowed", ErrRangeTooWide, span, e.MaxSpanDays())
	}
	return nil
}

// Qualifies reports whether rule fires on date for a card with the given anchor
// and working days.
//
// Daily and interval rules never fire on a day off. Calendar rules (weekly,
// monthly, quarterly, yearly) whose nominal date is a day off move to the next
// working day.
func (e *Engine) Qualifies(rule Rule, date calendar.Date, anchor Anchor, days calendar.Weekdays) (bool, error) {
	if !knownKind(rule.Kind) {
		return false, ErrInvalidFrequency
	}
	if !anchor.Created.IsZero() && date.Before(anchor.Created) {
		return false, nil
	}
	if !calendar.IsWorkingDay(date, days) {
		return false, nil
	}

	base := anchor.base()
	if rule.nominal(date, base) {
		return true, nil
	}
	if !rule.shiftsToWorkingDay() {
		return false, nil
	}

	for back := 1; back <= 7; back++ {
		prev := date.AddDays(-back)
		if calendar.IsWorkingDay(prev, days) {
			break
		}
		if !anchor.Created.IsZero() && prev.Before(anchor.Created) {
			break
		}
		if rule.nominal(prev, base) {
			return true, nil
		}
	}
	return false, nil
}

// Dates returns every date in [from, to] on which rule fires, ascending.
func (e *Engine) Dates(rule Rule, from, to calendar.Date, anchor Anchor, days calendar.Weekdays) ([]calendar.Date, error) {
	if err := e.ValidateRange(from, to); err != nil {
		return nil, err
	}

	dates := make([]calendar.Date, 0)
	for current := from; !current.After(to); current = current.AddDays(1) {
		ok, err := e.Qualifies(rule, current, anchor, days)
		if err != nil {
			return nil, err
		}
		if ok {
			dates = append(dates, current)
		}
	}
	return dates, nil
}

func knownKind(kind Kind) bool {
	switch kind {
	case KindEveryDay, KindEveryNDays, KindWeekly, KindMonthly, KindQuarterly, KindYearly:
		return true
	default:
		return false
	}
}
