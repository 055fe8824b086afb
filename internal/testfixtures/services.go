package testfixtures

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/lock"
	"github.com/example/cleaning-scheduler/internal/notify"
	"github.com/example/cleaning-scheduler/internal/persistence/memory"
	"github.com/example/cleaning-scheduler/internal/recurrence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// ServiceFactory assists tests with constructing application services over
// one store, one clock and one identifier sequence.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Notifier    *RecordingNotifier
	Calendar    *calendar.Adapter
	Generator   *scheduler.Generator
	Repos       application.Repositories
	Logger      *zap.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory builds a factory over a fresh in-memory store. The
// calendar falls back to Europe/Moscow.
func NewServiceFactory(tb testing.TB, opts ...ServiceFactoryOption) *ServiceFactory {
	tb.Helper()

	adapter, err := calendar.NewAdapter(calendar.DefaultTimeZone, zap.NewNop())
	require.NoError(tb, err)

	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Notifier:    &RecordingNotifier{},
		Calendar:    adapter,
		Repos:       MemoryRepositories(memory.New()),
		Logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Generator == nil {
		factory.Generator = scheduler.NewGenerator(recurrence.NewEngine(0), factory.Calendar)
	}
	return factory
}

func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.Clock = clock }
}

func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.IDGenerator = generator }
}

// WithRepositories swaps the backing store, for example for SQLiteHarness.
func WithRepositories(repos application.Repositories) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.Repos = repos }
}

func WithLogger(logger *zap.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.Logger = logger }
}

// MemoryRepositories exposes one in-memory storage through every repository.
func MemoryRepositories(storage *memory.Storage) application.Repositories {
	return application.Repositories{
		Objects:    storage,
		TechCards:  storage,
		Tasks:      storage,
		Checklists: storage,
		Tx:         storage,
	}
}

// Seeder returns the store behind Repos when it accepts catalogue writes.
func (f *ServiceFactory) Seeder(tb testing.TB) Seeder {
	tb.Helper()
	seeder, ok := f.Repos.Objects.(Seeder)
	require.True(tb, ok, "object repository %T cannot seed", f.Repos.Objects)
	return seeder
}

func (f *ServiceFactory) NewTaskService() *application.TaskService {
	return application.NewTaskService(f.Repos, f.Generator, f.Notifier, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

func (f *ServiceFactory) NewCalendarService() *application.CalendarService {
	return application.NewCalendarService(f.Repos, f.Generator, f.Calendar, f.Clock.NowFunc(), f.Logger)
}

// NewChecklistGenerator uses a LocalLocker when locker is nil.
func (f *ServiceFactory) NewChecklistGenerator(locker lock.Locker) *application.ChecklistGenerator {
	return application.NewChecklistGenerator(f.Repos, f.Generator, f.Calendar, locker, 0, f.Notifier, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// RecordingNotifier keeps every published event. Err, when set, is returned
// from Notify after recording.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	Err    error
}

func (r *RecordingNotifier) Notify(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *RecordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters the recorded events.
func (r *RecordingNotifier) OfType(eventType notify.EventType) []notify.Event {
	var out []notify.Event
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
