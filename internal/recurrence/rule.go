package recurrence

import (
	"fmt"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
)

// Kind identifies the cadence of a recurrence rule.
type Kind string

const (
	KindEveryDay   Kind = "EVERY_DAY"
	KindEveryNDays Kind = "EVERY_N_DAYS"
	KindWeekly     Kind = "WEEKLY"
	KindMonthly    Kind = "MONTHLY"
	KindQuarterly  Kind = "QUARTERLY"
	KindYearly     Kind = "YEARLY"
)

// Window is a named local time slot within a day.
type Window struct {
	Index int
	Name  string
	Start calendar.Clock
	End   calendar.Clock
}

func (w Window) String() string {
	return fmt.Sprintf("%s %s-%s", w.Name, w.Start, w.End)
}

// Rule is the resolved recurrence of a tech card.
type Rule struct {
	Kind       Kind
	Interval   int
	Weekday    time.Weekday
	DayOfMonth int
	Windows    []Window
}

// MultiWindow reports whether the rule yields more than one slot per day.
// Occurrence identifiers carry a window suffix only in that case.
func (r Rule) MultiWindow() bool {
	return len(r.Windows) > 1
}

// String renders the cadence, e.g. EVERY_N_DAYS(3) or WEEKLY(Monday).
func (r Rule) String() string {
	switch r.Kind {
	case KindEveryNDays:
		return fmt.Sprintf("%s(%d)", r.Kind, r.Interval)
	case KindWeekly:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Weekday)
	case KindMonthly:
		return fmt.Sprintf("%s(%d)", r.Kind, r.DayOfMonth)
	default:
		return string(r.Kind)
	}
}

// ApproxDays is the nominal period length used for display grouping.
func (r Rule) ApproxDays() int {
	switch r.Kind {
	case KindEveryNDays:
		return r.Interval
	case KindWeekly:
		return 7
	case KindMonthly:
		return 30
	case KindQuarterly:
		return 90
	case KindYearly:
		return 365
	default:
		return 1
	}
}

// shiftsToWorkingDay reports whether a nominal date that falls on a day off
// moves to the next working day instead of being dropped.
func (r Rule) shiftsToWorkingDay() bool {
	switch r.Kind {
	case KindWeekly, KindMonthly, KindQuarterly, KindYearly:
		return true
	default:
		return false
	}
}

// nominal reports whether the rule fires on date before working-day handling.
func (r Rule) nominal(date, base calendar.Date) bool {
	switch r.Kind {
	case KindEveryDay:
		return true
	case KindEveryNDays:
		if r.Interval <= 1 {
			return true
		}
		diff := date.DaysSince(base) % r.Interval
		if diff < 0 {
			diff += r.Interval
		}
		return diff == 0
	case KindWeekly:
		return date.Weekday() == r.Weekday
	case KindMonthly:
		day := r.DayOfMonth
		if day < 1 {
			day = 1
		}
		if last := date.DaysInMonth(); day > last {
			day = last
		}
		return date.Day == day
	case KindQuarterly:
		return date.Day == 1 && (date.Month-1)%3 == 0
	case KindYearly:
		return date.Day == 1 && date.Month == time.January
	default:
		return false
	}
}
