package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/recurrence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

var testNow = time.Date(2024, 3, 14, 7, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	pool, err := OpenSQLite(ctx, InMemorySQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store := NewStore(pool, DefaultRetryConfig())
	require.NoError(t, store.Migrate(ctx, zap.NewNop()))
	store.objects.now = func() time.Time { return testNow }
	return store
}

func seedObject(t *testing.T, store *Store) scheduler.Object {
	t.Helper()

	hours, err := calendar.ParseWorkingHours("08:00", "20:00")
	require.NoError(t, err)
	days, err := calendar.ParseWeekdays([]string{"monday", "tuesday", "wednesday", "thursday", "friday"})
	require.NoError(t, err)

	object := scheduler.Object{
		ID:      "obj-1",
		Name:    "БЦ Север",
		Manager: &scheduler.Manager{ID: "mgr-1", Name: "Иванова", Phone: "+7 900 000-00-00"},
		Calendar: calendar.Settings{
			TimeZone:     "Europe/Moscow",
			WorkingHours: hours,
			WorkingDays:  days,
		},
		AutoChecklists: true,
		Requirements:   scheduler.CompletionRequirements{RequirePhoto: true, MinPhotos: 2},
	}
	ctx := context.Background()
	require.NoError(t, store.Objects().SaveObject(ctx, object))
	require.NoError(t, store.Objects().SaveRoom(ctx, scheduler.Room{ID: "room-1", ObjectID: object.ID, Name: "Холл"}))
	return object
}

func sampleTask(id string, start time.Time) scheduler.Task {
	return scheduler.Task{
		ID:             id,
		TechCardID:     "tc-1",
		Description:    "Влажная уборка",
		ObjectID:       "obj-1",
		ObjectName:     "БЦ Север",
		ScheduledDate:  calendar.DateOf(start, time.UTC),
		ScheduledStart: start,
		ScheduledEnd:   start.Add(12 * time.Hour),
		Status:         scheduler.StatusPending,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestObjectRepository(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	object := seedObject(t, store)

	got, err := store.Objects().GetObject(ctx, object.ID)
	require.NoError(t, err)
	assert.Equal(t, object, got)

	_, err = store.Objects().GetObject(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, store.Objects().SaveObject(ctx, scheduler.Object{ID: "obj-2", Name: "Аптека"}))

	all, err := store.Objects().ListObjects(ctx, persistence.ObjectFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "obj-2", all[0].ID, "ordered by name")
	assert.False(t, all[0].Calendar.WorkingHours.IsSet())
	assert.Nil(t, all[0].Manager)

	managed, err := store.Objects().ListObjects(ctx, persistence.ObjectFilter{ManagerID: "mgr-1"})
	require.NoError(t, err)
	require.Len(t, managed, 1)

	auto, err := store.Objects().ListObjects(ctx, persistence.ObjectFilter{AutoChecklistsOnly: true, IDs: []string{"obj-1", "obj-2"}})
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, "obj-1", auto[0].ID)

	none, err := store.Objects().ListObjects(ctx, persistence.ObjectFilter{IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, none)

	rooms, err := store.Objects().ListRooms(ctx, object.ID)
	require.NoError(t, err)
	assert.Equal(t, []scheduler.Room{{ID: "room-1", ObjectID: "obj-1", Name: "Холл"}}, rooms)
}

func TestTechCardRepository(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedObject(t, store)

	cards := []scheduler.TechCard{
		{
			ID: "tc-1", ObjectID: "obj-1", RoomID: "room-1", Name: "Влажная уборка",
			Frequency: "2 раза в день", Active: true, CreatedAt: testNow,
			Windows: []recurrence.WindowSpec{{Name: "Утро", Start: "08:00", End: "12:00"}, {Name: "Вечер", Start: "16:00", End: "20:00"}},
		},
		{ID: "tc-2", ObjectID: "obj-1", RoomID: "room-1", Name: "Окна", Frequency: "ежемесячно", Active: false, CreatedAt: testNow},
		{ID: "tc-3", ObjectID: "obj-1", Name: "Обход", Frequency: "ежедневно", Active: true, CreatedAt: testNow},
	}
	for _, card := range cards {
		require.NoError(t, store.TechCards().SaveTechCard(ctx, card))
	}

	got, err := store.TechCards().GetTechCard(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, "Холл", got.RoomName)
	assert.Len(t, got.Windows, 2)
	assert.Equal(t, testNow, got.CreatedAt)

	inactive, err := store.TechCards().GetTechCard(ctx, "tc-2")
	require.NoError(t, err)
	assert.False(t, inactive.Active)
	assert.Nil(t, inactive.Windows)

	active, err := store.TechCards().ListTechCards(ctx, persistence.TechCardFilter{ObjectIDs: []string{"obj-1"}, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "tc-3", active[0].ID, "object-level cards sort before room cards")

	rooms, err := store.TechCards().CountRoomsWithTechCards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rooms)

	_, err = store.TechCards().GetTechCard(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestTaskRepository(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedObject(t, store)

	start := time.Date(2024, 3, 14, 5, 0, 0, 0, time.UTC)
	task := sampleTask("tc-1-2024-03-14", start)

	created, err := store.Tasks().CreateTaskIfAbsent(ctx, task)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Tasks().CreateTaskIfAbsent(ctx, task)
	require.NoError(t, err)
	assert.False(t, created, "second insert is a no-op")

	got, err := store.Tasks().GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusNew, got.Status, "PENDING persists as NEW")
	assert.Equal(t, calendar.NewDate(2024, 3, 14), got.ScheduledDate)
	assert.Empty(t, got.CompletionPhotos)
	assert.Nil(t, got.CompletedAt)

	completedAt := start.Add(3 * time.Hour)
	got.Status = scheduler.StatusClosedWithPhoto
	got.CompletedAt = &completedAt
	got.CompletedByID = "mgr-1"
	got.CompletionPhotos = []string{"a.jpg", "b.jpg"}
	got.UpdatedAt = completedAt
	require.NoError(t, store.Tasks().UpdateTask(ctx, got))

	reloaded, err := store.Tasks().GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, got, reloaded)

	assert.ErrorIs(t, store.Tasks().UpdateTask(ctx, scheduler.Task{ID: "missing"}), persistence.ErrNotFound)

	sameOccurrence := sampleTask("chk-1-tc-1-0", start)
	created, err = store.Tasks().CreateTaskIfAbsent(ctx, sameOccurrence)
	require.NoError(t, err)
	assert.False(t, created, "card, date and window are already stored under another id")
	found, err := store.Tasks().FindOccurrenceTask(ctx, "tc-1", calendar.NewDate(2024, 3, 14), 0)
	require.NoError(t, err)
	assert.Equal(t, task.ID, found.ID)
	_, err = store.Tasks().FindOccurrenceTask(ctx, "tc-1", calendar.NewDate(2024, 3, 14), 1)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	later := sampleTask("tc-1-2024-03-15", start.Add(24*time.Hour))
	_, err = store.Tasks().CreateTaskIfAbsent(ctx, later)
	require.NoError(t, err)

	from, to := start.Add(time.Hour), start.Add(48*time.Hour)
	ranged, err := store.Tasks().ListTasks(ctx, persistence.TaskFilter{ObjectIDs: []string{"obj-1"}, StartFrom: &from, StartTo: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, later.ID, ranged[0].ID)

	last, err := store.Tasks().LastCompletions(ctx, []string{"tc-1", "tc-9"})
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"tc-1": completedAt}, last)

	require.NoError(t, store.Tasks().AddComment(ctx, scheduler.Comment{ID: "c-2", TaskID: task.ID, AuthorID: "mgr-1", Text: "второй", CreatedAt: testNow.Add(time.Minute)}))
	require.NoError(t, store.Tasks().AddComment(ctx, scheduler.Comment{ID: "c-1", TaskID: task.ID, AuthorID: "mgr-1", Text: "первый", CreatedAt: testNow}))
	comments, err := store.Tasks().ListComments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "c-1", comments[0].ID)

	err = store.Tasks().AddComment(ctx, scheduler.Comment{ID: "c-3", TaskID: "missing", Text: "x", CreatedAt: testNow})
	assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)
}

func TestChecklistRepository(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedObject(t, store)

	date := calendar.NewDate(2024, 3, 14)
	checklist := scheduler.Checklist{ID: "chk-1", ObjectID: "obj-1", ObjectName: "БЦ Север", Date: date, CreatedAt: testNow}
	require.NoError(t, store.Checklists().CreateChecklist(ctx, checklist))

	dup := checklist
	dup.ID = "chk-2"
	assert.ErrorIs(t, store.Checklists().CreateChecklist(ctx, dup), persistence.ErrDuplicate)

	roomList := dup
	roomList.RoomID, roomList.RoomName = "room-1", "Холл"
	require.NoError(t, store.Checklists().CreateChecklist(ctx, roomList))

	count, err := store.Checklists().CountChecklists(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	listed, err := store.Checklists().ListChecklists(ctx, persistence.ChecklistFilter{ObjectID: "obj-1", Date: date})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "chk-1", listed[0].ID)

	task := sampleTask("chk-1-tc-1-0", time.Date(2024, 3, 14, 5, 0, 0, 0, time.UTC))
	task.ChecklistID = checklist.ID
	_, err = store.Tasks().CreateTaskIfAbsent(ctx, task)
	require.NoError(t, err)

	open, err := store.Checklists().CountOpenTasks(ctx, checklist.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	orphan := sampleTask("chk-x-tc-1-1", task.ScheduledStart)
	orphan.WindowIndex = 1
	orphan.ChecklistID = "chk-x"
	_, err = store.Tasks().CreateTaskIfAbsent(ctx, orphan)
	assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)

	lazy := sampleTask("tc-1-2024-03-15", task.ScheduledStart.Add(24*time.Hour))
	_, err = store.Tasks().CreateTaskIfAbsent(ctx, lazy)
	require.NoError(t, err)
	require.NoError(t, store.Tasks().AttachToChecklist(ctx, lazy.ID, checklist.ID))
	assert.ErrorIs(t, store.Tasks().AttachToChecklist(ctx, lazy.ID, roomList.ID), persistence.ErrNotFound,
		"an attached task never moves")
	attached, err := store.Tasks().ListTasks(ctx, persistence.TaskFilter{ChecklistID: checklist.ID})
	require.NoError(t, err)
	assert.Len(t, attached, 2)

	first := testNow.Add(time.Hour)
	require.NoError(t, store.Checklists().MarkCompleted(ctx, checklist.ID, first))
	require.NoError(t, store.Checklists().MarkCompleted(ctx, checklist.ID, first.Add(time.Hour)))
	got, err := store.Checklists().GetChecklist(ctx, checklist.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, first, *got.CompletedAt, "first completion wins")

	assert.ErrorIs(t, store.Checklists().MarkCompleted(ctx, "missing", first), persistence.ErrNotFound)
}

func TestStore_WithinTx(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedObject(t, store)

	date := calendar.NewDate(2024, 3, 15)
	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx persistence.Tx) error {
		if err := tx.Checklists().CreateChecklist(ctx, scheduler.Checklist{ID: "chk-1", ObjectID: "obj-1", Date: date, CreatedAt: testNow}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := store.Checklists().CountChecklists(ctx, date)
	require.NoError(t, err)
	assert.Zero(t, count, "rolled back")

	err = store.WithinTx(ctx, func(tx persistence.Tx) error {
		if err := tx.Checklists().CreateChecklist(ctx, scheduler.Checklist{ID: "chk-1", ObjectID: "obj-1", Date: date, CreatedAt: testNow}); err != nil {
			return err
		}
		task := sampleTask("chk-1-tc-1-0", time.Date(2024, 3, 15, 5, 0, 0, 0, time.UTC))
		task.ChecklistID = "chk-1"
		_, err := tx.Tasks().CreateTaskIfAbsent(ctx, task)
		return err
	})
	require.NoError(t, err)

	tasks, err := store.Tasks().ListTasks(ctx, persistence.TaskFilter{ChecklistID: "chk-1"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestTaskRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedObject(t, store)

	task := sampleTask("tc-1-2024-03-14", time.Date(2024, 3, 14, 5, 0, 0, 0, time.UTC))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Tasks().CreateTaskIfAbsent(ctx, task)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}
