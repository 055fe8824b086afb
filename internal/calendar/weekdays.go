package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekdays is a set of working weekdays. The empty set means every day is a
// working day.
type Weekdays uint8

var weekdayNames = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

// NewWeekdays builds a set from the provided days.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var set Weekdays
	for _, day := range days {
		set |= 1 << uint(day)
	}
	return set
}

// MondayToFriday is the conventional five-day working week.
var MondayToFriday = NewWeekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)

// ParseWeekdays converts names such as "MONDAY" (case-insensitive) into a set.
func ParseWeekdays(names []string) (Weekdays, error) {
	var set Weekdays
	for _, name := range names {
		day, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("calendar: unknown weekday %q", name)
		}
		set |= 1 << uint(day)
	}
	return set, nil
}

func (w Weekdays) Contains(day time.Weekday) bool {
	if w.IsEmpty() {
		return true
	}
	return w&(1<<uint(day)) != 0
}

// IsEmpty reports an unconfigured set, which counts as every day.
func (w Weekdays) IsEmpty() bool {
	return w == 0
}

// Names returns the upper-case weekday names in the set, Sunday first.
func (w Weekdays) Names() []string {
	names := make([]string, 0, 7)
	for name, day := range weekdayNames {
		if w != 0 && w&(1<<uint(day)) != 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return weekdayNames[names[i]] < weekdayNames[names[j]]
	})
	return names
}
