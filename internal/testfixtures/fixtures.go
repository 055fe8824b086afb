package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/recurrence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

var (
	objectCounter uint64
	cardCounter   uint64
)

// Seeder writes the read-only catalogue the scheduler consumes. Both the
// in-memory storage and SQLiteHarness satisfy it.
type Seeder interface {
	SaveObject(ctx context.Context, object scheduler.Object) error
	SaveRoom(ctx context.Context, room scheduler.Room) error
	SaveTechCard(ctx context.Context, card scheduler.TechCard) error
}

// ---------------------------- Object fixtures ----------------------------

// ObjectOption configures a generated object.
type ObjectOption func(*scheduler.Object)

// NewObject returns an object in Europe/Moscow working 08:00-20:00 Monday to
// Friday, managed by "mgr-1", with no completion requirements.
func NewObject(opts ...ObjectOption) scheduler.Object {
	idx := atomic.AddUint64(&objectCounter, 1)
	object := scheduler.Object{
		ID:      fmt.Sprintf("obj-%03d", idx),
		Name:    fmt.Sprintf("Объект %03d", idx),
		Manager: &scheduler.Manager{ID: "mgr-1", Name: "Иванова Мария", Phone: "+7 900 000-00-01"},
		Calendar: calendar.Settings{
			TimeZone:     "Europe/Moscow",
			WorkingHours: calendar.WorkingHours{Start: calendar.MustClock("08:00"), End: calendar.MustClock("20:00")},
			WorkingDays:  calendar.MondayToFriday,
		},
	}
	for _, opt := range opts {
		opt(&object)
	}
	return object
}

func WithObjectID(id string) ObjectOption {
	return func(o *scheduler.Object) { o.ID = id }
}

func WithObjectName(name string) ObjectOption {
	return func(o *scheduler.Object) { o.Name = name }
}

// WithManager assigns the manager; an empty id removes it.
func WithManager(id, name string) ObjectOption {
	return func(o *scheduler.Object) {
		if id == "" {
			o.Manager = nil
			return
		}
		o.Manager = &scheduler.Manager{ID: id, Name: name}
	}
}

func WithTimeZone(zone string) ObjectOption {
	return func(o *scheduler.Object) { o.Calendar.TimeZone = zone }
}

// WithWorkingHours sets HH:mm bounds; two empty strings clear them.
func WithWorkingHours(start, end string) ObjectOption {
	return func(o *scheduler.Object) {
		hours, err := calendar.ParseWorkingHours(start, end)
		if err != nil {
			panic(err)
		}
		o.Calendar.WorkingHours = hours
	}
}

// WithWorkingDays replaces the working week; no days means every day.
func WithWorkingDays(days ...time.Weekday) ObjectOption {
	return func(o *scheduler.Object) { o.Calendar.WorkingDays = calendar.NewWeekdays(days...) }
}

func WithAutoChecklists() ObjectOption {
	return func(o *scheduler.Object) { o.AutoChecklists = true }
}

func WithPhotoRequirement(minPhotos int) ObjectOption {
	return func(o *scheduler.Object) {
		o.Requirements.RequirePhoto = true
		o.Requirements.MinPhotos = minPhotos
	}
}

func WithCommentRequirement() ObjectOption {
	return func(o *scheduler.Object) { o.Requirements.RequireComment = true }
}

// ---------------------------- Tech card fixtures ----------------------------

// CardOption configures a generated tech card.
type CardOption func(*scheduler.TechCard)

// NewTechCard returns an active daily card of objectID created thirty days
// before ReferenceTime.
func NewTechCard(objectID string, opts ...CardOption) scheduler.TechCard {
	idx := atomic.AddUint64(&cardCounter, 1)
	card := scheduler.TechCard{
		ID:        fmt.Sprintf("tc-%03d", idx),
		ObjectID:  objectID,
		Name:      "Влажная уборка пола",
		WorkType:  "Уборка",
		Frequency: "ежедневно",
		Active:    true,
		CreatedAt: referenceTime.AddDate(0, 0, -30),
	}
	for _, opt := range opts {
		opt(&card)
	}
	return card
}

func WithCardID(id string) CardOption {
	return func(c *scheduler.TechCard) { c.ID = id }
}

func WithCardName(name string) CardOption {
	return func(c *scheduler.TechCard) { c.Name = name }
}

func WithRoom(id, name string) CardOption {
	return func(c *scheduler.TechCard) {
		c.RoomID = id
		c.RoomName = name
	}
}

func WithFrequency(frequency string) CardOption {
	return func(c *scheduler.TechCard) { c.Frequency = frequency }
}

func WithTimeOfDay(clock string) CardOption {
	return func(c *scheduler.TechCard) { c.TimeOfDay = clock }
}

// WithWindows sets explicit named windows.
func WithWindows(windows ...recurrence.WindowSpec) CardOption {
	return func(c *scheduler.TechCard) { c.Windows = windows }
}

func WithCreatedAt(at time.Time) CardOption {
	return func(c *scheduler.TechCard) { c.CreatedAt = at }
}

func Inactive() CardOption {
	return func(c *scheduler.TechCard) { c.Active = false }
}

// ---------------------------- Seeding ----------------------------

func SeedObject(tb testing.TB, seeder Seeder, object scheduler.Object) scheduler.Object {
	tb.Helper()
	require.NoError(tb, seeder.SaveObject(context.Background(), object))
	return object
}

func SeedRoom(tb testing.TB, seeder Seeder, objectID, id, name string) scheduler.Room {
	tb.Helper()
	room := scheduler.Room{ID: id, ObjectID: objectID, Name: name}
	require.NoError(tb, seeder.SaveRoom(context.Background(), room))
	return room
}

func SeedTechCard(tb testing.TB, seeder Seeder, card scheduler.TechCard) scheduler.TechCard {
	tb.Helper()
	require.NoError(tb, seeder.SaveTechCard(context.Background(), card))
	return card
}
