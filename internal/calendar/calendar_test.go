package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, 29, d.DaysInMonth())
	assert.Equal(t, time.Wednesday, d.Weekday())
	assert.Equal(t, 2, d.AddDays(2).DaysSince(d))
	assert.Equal(t, -2, d.DaysSince(d.AddDays(2)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))

	_, err = ParseDate("2024-13-01")
	assert.ErrorIs(t, err, ErrInvalidDate)

	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	lateUTC := time.Date(2024, 3, 4, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-05", DateOf(lateUTC, moscow).String())
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "08:00", want: 480},
		{in: "8:30", want: 510},
		{in: "24:00", want: EndOfDay},
		{in: "24:01", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "12:5", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseClock(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidClock, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, "08:05", Clock(485).String())
}

func TestWorkingHours(t *testing.T) {
	t.Parallel()

	hours, err := ParseWorkingHours("08:00", "20:00")
	require.NoError(t, err)
	assert.True(t, hours.IsSet())

	unset, err := ParseWorkingHours("", "")
	require.NoError(t, err)
	start, end := unset.Span()
	assert.Equal(t, StartOfDay, start)
	assert.Equal(t, EndOfDay, end)

	_, err = ParseWorkingHours("20:00", "08:00")
	assert.Error(t, err)
}

func TestIsWorkingDay(t *testing.T) {
	t.Parallel()

	saturday := NewDate(2024, time.March, 9)
	monday := NewDate(2024, time.March, 11)

	assert.False(t, IsWorkingDay(saturday, MondayToFriday))
	assert.True(t, IsWorkingDay(monday, MondayToFriday))
	assert.True(t, IsWorkingDay(saturday, Weekdays(0)), "empty set means every day works")
}

func TestParseWeekdays(t *testing.T) {
	t.Parallel()

	days, err := ParseWeekdays([]string{"monday", "FRIDAY"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MONDAY", "FRIDAY"}, days.Names())

	_, err = ParseWeekdays([]string{"FUNDAY"})
	assert.Error(t, err)
}

func TestNextWorkingDay(t *testing.T) {
	t.Parallel()

	friday := NewDate(2024, time.March, 8)
	assert.Equal(t, NewDate(2024, time.March, 11), NextWorkingDay(friday, MondayToFriday))
	assert.Equal(t, NewDate(2024, time.March, 9), NextWorkingDay(friday, 0))

	monday := NewDate(2024, time.March, 11)
	assert.Equal(t, NewDate(2024, time.March, 12), NextWorkingDay(monday, MondayToFriday), "strictly after")
}

func TestIsWorkingTime(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Novosibirsk")
	require.NoError(t, err)
	hours := WorkingHours{Start: MustClock("08:00"), End: MustClock("20:00")}
	day := NewDate(2024, time.March, 11)

	assert.True(t, IsWorkingTime(Instant(day, MustClock("08:00"), loc), hours, loc))
	assert.True(t, IsWorkingTime(Instant(day, MustClock("19:59"), loc), hours, loc))
	assert.False(t, IsWorkingTime(Instant(day, MustClock("20:00"), loc), hours, loc), "end is exclusive")
	assert.False(t, IsWorkingTime(Instant(day, MustClock("07:59"), loc), hours, loc))
	assert.True(t, IsWorkingTime(Instant(day, MustClock("03:00"), loc), WorkingHours{}, loc))
}

func TestInstant(t *testing.T) {
	t.Parallel()

	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	day := NewDate(2024, time.March, 11)

	assert.Equal(t, time.Date(2024, 3, 11, 5, 0, 0, 0, time.UTC), Instant(day, MustClock("08:00"), moscow))
	assert.Equal(t, time.Date(2024, 3, 11, 21, 0, 0, 0, time.UTC), Instant(day, EndOfDay, moscow))
}

func TestAdapter_Location(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	adapter, err := NewAdapter("", zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", adapter.Fallback().String())

	ctx := context.Background()
	assert.Equal(t, "Asia/Vladivostok", adapter.Location(ctx, "obj-1", "Asia/Vladivostok").String())
	assert.Equal(t, 0, logs.Len())

	assert.Equal(t, "Europe/Moscow", adapter.Location(ctx, "obj-2", "Moon/Base").String())
	assert.Equal(t, "Europe/Moscow", adapter.Location(ctx, "obj-2", "Moon/Base").String())
	require.Equal(t, 1, logs.Len(), "repeated warnings are deduplicated")

	entry := logs.All()[0]
	assert.Equal(t, "data_quality", entry.ContextMap()["kind"])
	assert.Equal(t, "obj-2", entry.ContextMap()["object_id"])

	adapter.Location(ctx, "obj-3", "")
	assert.Equal(t, 2, logs.Len())
}

func TestAdapter_LocalNow(t *testing.T) {
	t.Parallel()

	adapter, err := NewAdapter("UTC", nil)
	require.NoError(t, err)

	now := time.Date(2024, 3, 11, 23, 30, 0, 0, time.UTC)
	settings := Settings{TimeZone: "Asia/Tokyo"}
	local := adapter.LocalNow(context.Background(), "obj", settings, now)
	assert.Equal(t, 8, local.Hour())
	assert.Equal(t, NewDate(2024, time.March, 12), adapter.Today(context.Background(), "obj", settings, now))

	_, err = NewAdapter("Nowhere/Invalid", nil)
	assert.Error(t, err)
}

func TestWarningCache(t *testing.T) {
	t.Parallel()

	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cache := newWarningCache(time.Minute, 2, func() time.Time { return current })

	assert.True(t, cache.ShouldWarn("a"))
	assert.False(t, cache.ShouldWarn("a"))

	current = current.Add(2 * time.Minute)
	assert.True(t, cache.ShouldWarn("a"), "expired entries warn again")

	assert.True(t, cache.ShouldWarn("b"))
	assert.True(t, cache.ShouldWarn("c"))
	assert.LessOrEqual(t, len(cache.entries), 2)
}
