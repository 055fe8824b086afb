package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/lock"
	"github.com/example/cleaning-scheduler/internal/notify"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
	"github.com/example/cleaning-scheduler/internal/testfixtures"
)

var generationDay = calendar.NewDate(2024, time.March, 14)

// newGeneratorEnv seeds an auto-enabled object with a hall, a washroom and a
// room-less card, plus a Monday-only card that does not fire on Thursday, and a
// manual object that must be ignored.
func newGeneratorEnv(t *testing.T) *testfixtures.ServiceFactory {
	t.Helper()

	factory := testfixtures.NewServiceFactory(t, testfixtures.WithIDGenerator(testfixtures.NewIDGenerator("chk")))
	seeder := factory.Seeder(t)
	auto := testfixtures.SeedObject(t, seeder, testfixtures.NewObject(
		testfixtures.WithObjectID("obj-auto"),
		testfixtures.WithObjectName("ТЦ Радуга"),
		testfixtures.WithAutoChecklists(),
	))
	manual := testfixtures.SeedObject(t, seeder, testfixtures.NewObject(testfixtures.WithObjectID("obj-manual")))
	testfixtures.SeedRoom(t, seeder, auto.ID, "room-hall", "Холл")
	testfixtures.SeedRoom(t, seeder, auto.ID, "room-wc", "Санузел")

	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(auto.ID, testfixtures.WithCardID("tc-hall"), testfixtures.WithRoom("room-hall", "Холл")))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(auto.ID, testfixtures.WithCardID("tc-wc"), testfixtures.WithRoom("room-wc", "Санузел"),
		testfixtures.WithFrequency("2 раза в день")))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(auto.ID, testfixtures.WithCardID("tc-wc-weekly"), testfixtures.WithRoom("room-wc", "Санузел"),
		testfixtures.WithFrequency("еженедельно по понедельникам")))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(auto.ID, testfixtures.WithCardID("tc-facade"), testfixtures.WithCardName("Мойка входной группы")))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(manual.ID, testfixtures.WithCardID("tc-manual")))
	return factory
}

func TestChecklistGenerator_CreatesTodaysChecklists(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	gen := factory.NewChecklistGenerator(nil)

	result, err := gen.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CreatedCount, "one checklist per room with work today")
	assert.Equal(t, 4, result.CreatedTasks)
	assert.Empty(t, result.SkippedObjects)
	assert.Empty(t, result.FailedObjects)

	checklists, err := factory.Repos.Checklists.ListChecklists(ctx, persistence.ChecklistFilter{ObjectID: "obj-auto", Date: generationDay})
	require.NoError(t, err)
	require.Len(t, checklists, 3)

	rooms := map[string]scheduler.Checklist{}
	for _, checklist := range checklists {
		rooms[checklist.RoomID] = checklist
		assert.Equal(t, "ТЦ Радуга", checklist.ObjectName)
		assert.Nil(t, checklist.CompletedAt)
	}
	require.Contains(t, rooms, "")
	require.Contains(t, rooms, "room-wc")
	assert.Equal(t, "Санузел", rooms["room-wc"].RoomName)

	wc := rooms["room-wc"]
	tasks, err := factory.Repos.Tasks.ListTasks(ctx, persistence.TaskFilter{ChecklistID: wc.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 2, "both windows, the Monday card does not fire")
	assert.Equal(t, wc.ID+"-tc-wc-0", tasks[0].ID)
	assert.Equal(t, wc.ID+"-tc-wc-1", tasks[1].ID)
	assert.Equal(t, scheduler.StatusAvailable, tasks[0].Status)
	assert.Equal(t, scheduler.StatusNew, tasks[1].Status, "pending windows are stored as new")
	assert.Equal(t, generationDay, tasks[1].ScheduledDate)

	events := factory.Notifier.OfType(notify.EventChecklistsCreated)
	require.Len(t, events, 1)
	assert.Equal(t, "obj-auto", events[0].ObjectID)
	assert.Empty(t, events[0].ActorID)
}

func TestChecklistGenerator_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	gen := factory.NewChecklistGenerator(nil)

	_, err := gen.Generate(ctx, &admin)
	require.NoError(t, err)

	again, err := gen.Generate(ctx, &admin)
	require.NoError(t, err)
	assert.Zero(t, again.CreatedCount)
	assert.Equal(t, []application.SkippedObject{{ObjectID: "obj-auto", Reason: application.SkipAlreadyExists}}, again.SkippedObjects)

	count, err := factory.Repos.Checklists.CountChecklists(ctx, generationDay)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestChecklistGenerator_RequiresAdmin(t *testing.T) {
	factory := newGeneratorEnv(t)
	gen := factory.NewChecklistGenerator(nil)

	for _, principal := range []application.Principal{deputy, manager} {
		principal := principal
		_, err := gen.Generate(context.Background(), &principal)
		assert.ErrorIs(t, err, application.ErrUnauthorized, principal.Role)
	}
	assert.Zero(t, factory.IDGenerator.Issued())
}

func TestChecklistGenerator_SkipsNonWorkingDay(t *testing.T) {
	factory := newGeneratorEnv(t)
	factory.Clock.SetLocal("Europe/Moscow", 2024, time.March, 16, 9, 0)

	result, err := factory.NewChecklistGenerator(nil).Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.CreatedCount)
	assert.Equal(t, []application.SkippedObject{{ObjectID: "obj-auto", Reason: application.SkipNonWorkingDay}}, result.SkippedObjects)
}

func TestChecklistGenerator_UsesObjectLocalDate(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	// 23:30 UTC on Thursday is already Friday in Moscow.
	factory.Clock.Set(time.Date(2024, 3, 14, 23, 30, 0, 0, time.UTC))

	result, err := factory.NewChecklistGenerator(nil).Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CreatedCount)

	friday, err := factory.Repos.Checklists.CountChecklists(ctx, generationDay.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 3, friday)
}

func TestChecklistGenerator_SkipsLockedObject(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	locker := lock.NewLocalLocker()

	lease, ok, err := locker.Acquire(ctx, "checklists:obj-auto:2024-03-14", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := factory.NewChecklistGenerator(locker).Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []application.SkippedObject{{ObjectID: "obj-auto", Reason: application.SkipLocked}}, result.SkippedObjects)

	require.NoError(t, lease.Release(ctx))
	result, err = factory.NewChecklistGenerator(locker).Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CreatedCount)
}

type failingLocker struct {
	failFor string
	inner   lock.Locker
}

func (f failingLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Lease, bool, error) {
	if name == "checklists:"+f.failFor+":2024-03-14" {
		return nil, false, errors.New("redis: connection refused")
	}
	return f.inner.Acquire(ctx, name, ttl)
}

func TestChecklistGenerator_IsolatesObjectFailures(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	seeder := factory.Seeder(t)
	broken := testfixtures.SeedObject(t, seeder, testfixtures.NewObject(testfixtures.WithObjectID("obj-broken"), testfixtures.WithAutoChecklists()))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(broken.ID))
	idle := testfixtures.SeedObject(t, seeder, testfixtures.NewObject(testfixtures.WithObjectID("obj-idle"), testfixtures.WithAutoChecklists()))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard(idle.ID, testfixtures.WithFrequency("еженедельно по понедельникам")))

	gen := factory.NewChecklistGenerator(failingLocker{failFor: "obj-broken", inner: lock.NewLocalLocker()})
	result, err := gen.Generate(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.CreatedCount)
	require.Len(t, result.FailedObjects, 1)
	assert.Equal(t, "obj-broken", result.FailedObjects[0].ObjectID)
	assert.Contains(t, result.FailedObjects[0].Error, "connection refused")
	assert.Equal(t, []application.SkippedObject{{ObjectID: "obj-idle", Reason: application.SkipNothingToCreate}}, result.SkippedObjects)
}

func TestChecklistGenerator_RedisLockAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	factory := newGeneratorEnv(t)
	first := factory.NewChecklistGenerator(lock.NewRedisLocker(client, "cleaning:"))
	second := factory.NewChecklistGenerator(lock.NewRedisLocker(client, "cleaning:"))

	a, err := first.Generate(ctx, nil)
	require.NoError(t, err)
	b, err := second.Generate(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, a.CreatedCount+b.CreatedCount)
	assert.Empty(t, server.Keys(), "leases are released after each run")
}

func TestChecklistGenerator_TasksShadowVirtualsAndCloseChecklist(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	_, err := factory.NewChecklistGenerator(nil).Generate(ctx, nil)
	require.NoError(t, err)

	calendarResult, err := factory.NewCalendarService().GetCalendar(ctx, application.CalendarParams{Principal: manager, ObjectID: "obj-auto"})
	require.NoError(t, err)
	today := idsOf(calendarResult.Today)
	assert.Len(t, today, 4)
	assert.NotContains(t, today, "tc-hall-2024-03-14")
	assert.NotContains(t, today, "tc-wc-2024-03-14-0")

	checklists, err := factory.Repos.Checklists.ListChecklists(ctx, persistence.ChecklistFilter{ObjectID: "obj-auto", Date: generationDay})
	require.NoError(t, err)
	var wc scheduler.Checklist
	for _, checklist := range checklists {
		if checklist.RoomID == "room-wc" {
			wc = checklist
		}
	}
	require.NotEmpty(t, wc.ID)

	tasks := factory.NewTaskService()
	_, err = tasks.Complete(ctx, application.CompleteParams{Principal: manager, OccurrenceID: wc.ID + "-tc-wc-0"})
	require.NoError(t, err)
	open, err := factory.Repos.Checklists.GetChecklist(ctx, wc.ID)
	require.NoError(t, err)
	assert.Nil(t, open.CompletedAt, "one task still open")

	_, err = tasks.Complete(ctx, application.CompleteParams{Principal: manager, OccurrenceID: wc.ID + "-tc-wc-1"})
	require.NoError(t, err)
	closed, err := factory.Repos.Checklists.GetChecklist(ctx, wc.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.CompletedAt)
	assert.True(t, closed.CompletedAt.Equal(factory.Clock.Now()))

	events := factory.Notifier.OfType(notify.EventChecklistCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, wc.ID, events[0].ChecklistID)
}

func TestChecklistGenerator_Status(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	gen := factory.NewChecklistGenerator(nil)

	before, err := gen.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, application.GeneratorStatus{
		ChecklistsToday:         0,
		TotalObjects:            2,
		AutoEnabledObjects:      1,
		TotalRoomsWithTechCards: 2,
		Date:                    generationDay,
	}, before)

	_, err = gen.Generate(ctx, nil)
	require.NoError(t, err)

	after, err := gen.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, after.ChecklistsToday)
}

func occurrencesOn(list []scheduler.Occurrence, cardID string, date calendar.Date) []scheduler.Occurrence {
	out := make([]scheduler.Occurrence, 0)
	for _, o := range list {
		if o.TechCardID() == cardID && o.Date() == date {
			out = append(out, o)
		}
	}
	return out
}

func allOccurrences(result application.CalendarResult) []scheduler.Occurrence {
	all := append([]scheduler.Occurrence{}, result.Overdue...)
	all = append(all, result.Today...)
	all = append(all, result.Upcoming...)
	return append(all, result.Completed...)
}

func TestChecklistGenerator_AdoptsLazilyStoredOccurrence(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	tasks := factory.NewTaskService()

	done, err := tasks.Complete(ctx, application.CompleteParams{Principal: manager, OccurrenceID: "tc-hall-2024-03-14"})
	require.NoError(t, err)
	require.Empty(t, done.ChecklistID)

	result, err := factory.NewChecklistGenerator(nil).Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CreatedCount)
	assert.Equal(t, 3, result.CreatedTasks, "the hall task already exists")
	assert.Equal(t, 1, result.AdoptedTasks)

	adopted, err := factory.Repos.Tasks.GetTask(ctx, "tc-hall-2024-03-14")
	require.NoError(t, err)
	require.NotEmpty(t, adopted.ChecklistID)
	assert.Equal(t, scheduler.StatusCompleted, adopted.Status)

	hall, err := factory.Repos.Checklists.GetChecklist(ctx, adopted.ChecklistID)
	require.NoError(t, err)
	assert.Equal(t, "room-hall", hall.RoomID)
	require.NotNil(t, hall.CompletedAt, "every task of the hall checklist is already done")

	hallTasks, err := factory.Repos.Tasks.ListTasks(ctx, persistence.TaskFilter{ChecklistID: hall.ID})
	require.NoError(t, err)
	require.Len(t, hallTasks, 1)
	assert.Equal(t, "tc-hall-2024-03-14", hallTasks[0].ID)

	view, err := factory.NewCalendarService().GetCalendar(ctx, application.CalendarParams{Principal: manager, ObjectID: "obj-auto"})
	require.NoError(t, err)
	hallToday := occurrencesOn(allOccurrences(view), "tc-hall", generationDay)
	require.Len(t, hallToday, 1)
	assert.Equal(t, "tc-hall-2024-03-14", hallToday[0].ID())
	assert.Equal(t, []string{"tc-hall-2024-03-14"}, idsOf(view.Completed))
}

func TestChecklistGenerator_LazyIDReachesChecklistTask(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)
	_, err := factory.NewChecklistGenerator(nil).Generate(ctx, nil)
	require.NoError(t, err)

	tasks := factory.NewTaskService()
	started, err := tasks.Start(ctx, manager, "tc-hall-2024-03-14")
	require.NoError(t, err)
	assert.NotEqual(t, "tc-hall-2024-03-14", started.ID, "the checklist row is used")
	assert.NotEmpty(t, started.ChecklistID)
	assert.Equal(t, scheduler.StatusInProgress, started.Status)

	_, err = factory.Repos.Tasks.GetTask(ctx, "tc-hall-2024-03-14")
	assert.ErrorIs(t, err, persistence.ErrNotFound, "no lazy row is stored")

	got, err := tasks.GetTask(ctx, manager, "tc-hall-2024-03-14")
	require.NoError(t, err)
	assert.Equal(t, started.ID, got.ID())

	completed, err := tasks.Complete(ctx, application.CompleteParams{Principal: manager, OccurrenceID: "tc-hall-2024-03-14"})
	require.NoError(t, err)
	assert.Equal(t, started.ID, completed.ID)
	hall, err := factory.Repos.Checklists.GetChecklist(ctx, started.ChecklistID)
	require.NoError(t, err)
	assert.NotNil(t, hall.CompletedAt, "the hall checklist has no other task")

	view, err := factory.NewCalendarService().GetCalendar(ctx, application.CalendarParams{Principal: manager, ObjectID: "obj-auto"})
	require.NoError(t, err)
	assert.Len(t, occurrencesOn(allOccurrences(view), "tc-hall", generationDay), 1)
}

func TestChecklistGenerator_ResumesPartialRun(t *testing.T) {
	ctx := context.Background()
	factory := newGeneratorEnv(t)

	// a crashed run left only the hall checklist behind
	require.NoError(t, factory.Repos.Tx.WithinTx(ctx, func(tx persistence.Tx) error {
		return tx.Checklists().CreateChecklist(ctx, scheduler.Checklist{
			ID: "chk-earlier", ObjectID: "obj-auto", RoomID: "room-hall", RoomName: "Холл", Date: generationDay, CreatedAt: factory.Clock.Now(),
		})
	}))

	result, err := factory.NewChecklistGenerator(nil).Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedCount, "the washroom and the room-less checklists are added")
	assert.Empty(t, result.SkippedObjects)

	count, err := factory.Repos.Checklists.CountChecklists(ctx, generationDay)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
