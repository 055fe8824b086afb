// Package recurrence turns free-text tech card periodicity into concrete rules
// and decides which calendar dates a rule fires on.
package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
)

// MaxWindowsPerDay caps "N times a day" markers.
const MaxWindowsPerDay = 12

// Spec is the raw periodicity input of a tech card.
type Spec struct {
	Frequency string
	TimeOfDay string
	Windows   []WindowSpec
}

// WindowSpec is an explicit time window configured on a tech card.
type WindowSpec struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

var (
	perDayPattern   = regexp.MustCompile(`(\d+)\s*(?:раз[а]?\s*(?:в|за)\s*(?:день|сутки)|times?\s*(?:a|per)\s*day|_times_day)`)
	intervalPattern = regexp.MustCompile(`(\d+)\s*(день|дня|дней|неделя|недели|недель|неделю|месяц|месяца|месяцев)`)
	everyNPattern   = regexp.MustCompile(`every\s+(\d+)\s*(days?|weeks?|months?)`)
	dayOfMonthRe    = regexp.MustCompile(`(\d{1,2})\s*(?:-?го\s*)?числа`)
)

var weekdayStems = []struct {
	stems []string
	day   time.Weekday
}{
	{[]string{"понедельник", "monday"}, time.Monday},
	{[]string{"вторник", "tuesday"}, time.Tuesday},
	{[]string{"среда", "среду", "средам", "wednesday"}, time.Wednesday},
	{[]string{"четверг", "thursday"}, time.Thursday},
	{[]string{"пятниц", "friday"}, time.Friday},
	{[]string{"суббот", "saturday"}, time.Saturday},
	{[]string{"воскресень", "sunday"}, time.Sunday},
}

// Resolve parses a tech card's periodicity into a Rule. Unrecognised text
// resolves to EVERY_DAY with a single window; it never fails.
func Resolve(spec Spec, hours calendar.WorkingHours) Rule {
	freq := strings.ToLower(strings.TrimSpace(spec.Frequency))
	rule, perDay := resolveCadence(freq)
	rule.Windows = resolveWindows(spec, perDay, hours)
	return rule
}

func resolveCadence(freq string) (Rule, int) {
	if n := timesPerDay(freq); n > 0 {
		return Rule{Kind: KindEveryDay, Interval: 1}, n
	}

	switch {
	case containsAny(freq, "ежедневно", "каждый день") || freq == "daily" || freq == "every_day":
		return Rule{Kind: KindEveryDay, Interval: 1}, 1
	case containsAny(freq, "еженедельно", "раз в неделю") || freq == "weekly":
		day, ok := weekdayIn(freq)
		if !ok {
			day = time.Monday
		}
		return Rule{Kind: KindWeekly, Interval: 7, Weekday: day}, 1
	case containsAny(freq, "ежемесячно", "раз в месяц") || freq == "monthly":
		return Rule{Kind: KindMonthly, Interval: 30, DayOfMonth: dayOfMonth(freq)}, 1
	case containsAny(freq, "ежеквартально", "раз в квартал") || freq == "quarterly":
		return Rule{Kind: KindQuarterly, Interval: 90}, 1
	case containsAny(freq, "раз в год", "ежегодно") || freq == "yearly" || freq == "annually":
		return Rule{Kind: KindYearly, Interval: 365}, 1
	}

	if days, ok := intervalDays(freq); ok {
		if days <= 1 {
			return Rule{Kind: KindEveryDay, Interval: 1}, 1
		}
		return Rule{Kind: KindEveryNDays, Interval: days}, 1
	}

	if day, ok := weekdayIn(freq); ok {
		return Rule{Kind: KindWeekly, Interval: 7, Weekday: day}, 1
	}

	return Rule{Kind: KindEveryDay, Interval: 1}, 1
}

func timesPerDay(freq string) int {
	switch {
	case containsAny(freq, "дважды в день", "twice a day", "twice daily"):
		return 2
	case containsAny(freq, "трижды в день", "three times a day"):
		return 3
	}
	match := perDayPattern.FindStringSubmatch(freq)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return 0
	}
	if n > MaxWindowsPerDay {
		n = MaxWindowsPerDay
	}
	return n
}

func intervalDays(freq string) (int, bool) {
	if match := intervalPattern.FindStringSubmatch(freq); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil && n > 0 {
			switch {
			case strings.HasPrefix(match[2], "нед"):
				return n * 7, true
			case strings.HasPrefix(match[2], "месяц"):
				return n * 30, true
			default:
				return n, true
			}
		}
	}
	if match := everyNPattern.FindStringSubmatch(freq); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil && n > 0 {
			switch {
			case strings.HasPrefix(match[2], "week"):
				return n * 7, true
			case strings.HasPrefix(match[2], "month"):
				return n * 30, true
			default:
				return n, true
			}
		}
	}
	return 0, false
}

func dayOfMonth(freq string) int {
	match := dayOfMonthRe.FindStringSubmatch(freq)
	if match == nil {
		return 1
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n < 1 || n > 31 {
		return 1
	}
	return n
}

func weekdayIn(freq string) (time.Weekday, bool) {
	for _, entry := range weekdayStems {
		if containsAny(freq, entry.stems...) {
			return entry.day, true
		}
	}
	return time.Sunday, false
}

func resolveWindows(spec Spec, perDay int, hours calendar.WorkingHours) []Window {
	if explicit := explicitWindows(spec.Windows); len(explicit) > 0 {
		return explicit
	}

	start, end := hours.Span()
	if tod := strings.TrimSpace(spec.TimeOfDay); tod != "" && perDay <= 1 {
		if at, err := calendar.ParseClock(tod); err == nil && at < calendar.EndOfDay {
			windowEnd := end
			if at >= end {
				windowEnd = calendar.EndOfDay
			}
			return []Window{{Index: 0, Name: singleWindowName, Start: at, End: windowEnd}}
		}
	}

	return splitWindows(perDay, start, end)
}

func explicitWindows(specs []WindowSpec) []Window {
	windows := make([]Window, 0, len(specs))
	for _, spec := range specs {
		start, err := calendar.ParseClock(spec.Start)
		if err != nil {
			continue
		}
		end, err := calendar.ParseClock(spec.End)
		if err != nil || end <= start {
			continue
		}
		name := strings.TrimSpace(spec.Name)
		windows = append(windows, Window{Index: len(windows), Name: name, Start: start, End: end})
	}
	for i := range windows {
		if windows[i].Name == "" {
			windows[i].Name = shiftName(i, len(windows))
		}
	}
	return windows
}

const singleWindowName = "Рабочее время"

// splitWindows divides [start, end) into n equal consecutive slots.
func splitWindows(n int, start, end calendar.Clock) []Window {
	total := end.Minutes() - start.Minutes()
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	if n <= 1 {
		return []Window{{Index: 0, Name: singleWindowName, Start: start, End: end}}
	}

	windows := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		from := start + calendar.Clock(total*i/n)
		to := start + calendar.Clock(total*(i+1)/n)
		windows = append(windows, Window{Index: i, Name: shiftName(i, n), Start: from, End: to})
	}
	return windows
}

func shiftName(i, n int) string {
	switch {
	case n == 1:
		return singleWindowName
	case n == 2:
		return [...]string{"Утренняя смена", "Вечерняя смена"}[i]
	case n == 3:
		return [...]string{"Утренняя смена", "Дневная смена", "Вечерняя смена"}[i]
	default:
		return fmt.Sprintf("Смена %d", i+1)
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
