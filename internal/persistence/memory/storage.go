// Package memory provides an in-process persistence backend. It is used by
// the service tests and by the "memory" store driver for local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/recurrence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// Storage keeps every record in maps guarded by one mutex.
type Storage struct {
	mu         sync.RWMutex
	objects    map[string]scheduler.Object
	rooms      map[string]scheduler.Room
	cards      map[string]scheduler.TechCard
	tasks      map[string]scheduler.Task
	comments   map[string][]scheduler.Comment
	checklists map[string]scheduler.Checklist

	// txMu serializes WithinTx callers.
	txMu sync.Mutex
}

var (
	_ persistence.ObjectRepository    = (*Storage)(nil)
	_ persistence.TechCardRepository  = (*Storage)(nil)
	_ persistence.TaskRepository      = (*Storage)(nil)
	_ persistence.ChecklistRepository = (*Storage)(nil)
	_ persistence.Transactor          = (*Storage)(nil)
)

// New returns an empty storage.
func New() *Storage {
	return &Storage{
		objects:    make(map[string]scheduler.Object),
		rooms:      make(map[string]scheduler.Room),
		cards:      make(map[string]scheduler.TechCard),
		tasks:      make(map[string]scheduler.Task),
		comments:   make(map[string][]scheduler.Comment),
		checklists: make(map[string]scheduler.Checklist),
	}
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Storage) Close() error { return nil }

// --- seeding ---

// SaveObject inserts or replaces an object.
func (s *Storage) SaveObject(_ context.Context, object scheduler.Object) error {
	if object.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[object.ID] = cloneObject(object)
	return nil
}

// SaveRoom inserts or replaces a room of an existing object.
func (s *Storage) SaveRoom(_ context.Context, room scheduler.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[room.ObjectID]; !ok {
		return fmt.Errorf("%w: object %s", persistence.ErrForeignKeyViolation, room.ObjectID)
	}
	s.rooms[room.ID] = room
	return nil
}

// SaveTechCard inserts or replaces a tech card of an existing object.
func (s *Storage) SaveTechCard(_ context.Context, card scheduler.TechCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[card.ObjectID]; !ok {
		return fmt.Errorf("%w: object %s", persistence.ErrForeignKeyViolation, card.ObjectID)
	}
	s.cards[card.ID] = cloneCard(card)
	return nil
}

// --- ObjectRepository implementation ---

func (s *Storage) GetObject(_ context.Context, id string) (scheduler.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	object, ok := s.objects[id]
	if !ok {
		return scheduler.Object{}, persistence.ErrNotFound
	}
	return cloneObject(object), nil
}

// ListObjects returns objects matching filter ordered by name.
func (s *Storage) ListObjects(_ context.Context, filter persistence.ObjectFilter) ([]scheduler.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := toSet(filter.IDs)
	objects := make([]scheduler.Object, 0, len(s.objects))
	for _, object := range s.objects {
		if ids != nil && !ids[object.ID] {
			continue
		}
		if filter.ManagerID != "" && !object.ManagedBy(filter.ManagerID) {
			continue
		}
		if filter.AutoChecklistsOnly && !object.AutoChecklists {
			continue
		}
		objects = append(objects, cloneObject(object))
	}

	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Name == objects[j].Name {
			return objects[i].ID < objects[j].ID
		}
		return objects[i].Name < objects[j].Name
	})
	return objects, nil
}

func (s *Storage) ListRooms(_ context.Context, objectID string) ([]scheduler.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]scheduler.Room, 0)
	for _, room := range s.rooms {
		if room.ObjectID == objectID {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})
	return rooms, nil
}

// --- TechCardRepository implementation ---

func (s *Storage) GetTechCard(_ context.Context, id string) (scheduler.TechCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[id]
	if !ok {
		return scheduler.TechCard{}, persistence.ErrNotFound
	}
	return s.withRoomName(card), nil
}

// ListTechCards returns cards matching filter ordered by object, room and id.
func (s *Storage) ListTechCards(_ context.Context, filter persistence.TechCardFilter) ([]scheduler.TechCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objectIDs := toSet(filter.ObjectIDs)
	cards := make([]scheduler.TechCard, 0, len(s.cards))
	for _, card := range s.cards {
		if objectIDs != nil && !objectIDs[card.ObjectID] {
			continue
		}
		if filter.ActiveOnly && !card.Active {
			continue
		}
		cards = append(cards, s.withRoomName(card))
	}

	sort.Slice(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		return a.ID < b.ID
	})
	return cards, nil
}

func (s *Storage) CountRoomsWithTechCards(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make(map[string]struct{})
	for _, card := range s.cards {
		if card.Active && card.RoomID != "" {
			rooms[card.RoomID] = struct{}{}
		}
	}
	return len(rooms), nil
}

func (s *Storage) withRoomName(card scheduler.TechCard) scheduler.TechCard {
	card = cloneCard(card)
	if room, ok := s.rooms[card.RoomID]; ok {
		card.RoomName = room.Name
	}
	return card
}

// --- TaskRepository implementation ---

// CreateTaskIfAbsent stores task unless its id is taken.
func (s *Storage) CreateTaskIfAbsent(_ context.Context, task scheduler.Task) (bool, error) {
	if task.ID == "" || task.TechCardID == "" || task.ObjectID == "" {
		return false, persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return false, nil
	}
	if _, ok := s.findOccurrence(task.TechCardID, task.ScheduledDate, task.WindowIndex); ok {
		return false, nil
	}
	if task.ChecklistID != "" {
		if _, ok := s.checklists[task.ChecklistID]; !ok {
			return false, fmt.Errorf("%w: checklist %s", persistence.ErrForeignKeyViolation, task.ChecklistID)
		}
	}
	task.Status = task.Status.Persistable()
	s.tasks[task.ID] = normalizeTask(task)
	return true, nil
}

func (s *Storage) GetTask(_ context.Context, id string) (scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return scheduler.Task{}, persistence.ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *Storage) FindOccurrenceTask(_ context.Context, techCardID string, date calendar.Date, windowIndex int) (scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.findOccurrence(techCardID, date, windowIndex)
	if !ok {
		return scheduler.Task{}, persistence.ErrNotFound
	}
	return cloneTask(task), nil
}

// findOccurrence expects s.mu to be held.
func (s *Storage) findOccurrence(techCardID string, date calendar.Date, windowIndex int) (scheduler.Task, bool) {
	for _, task := range s.tasks {
		if task.TechCardID == techCardID && task.ScheduledDate == date && task.WindowIndex == windowIndex {
			return task, true
		}
	}
	return scheduler.Task{}, false
}

func (s *Storage) AttachToChecklist(_ context.Context, taskID, checklistID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.ChecklistID != "" {
		return persistence.ErrNotFound
	}
	if _, ok := s.checklists[checklistID]; !ok {
		return fmt.Errorf("%w: checklist %s", persistence.ErrForeignKeyViolation, checklistID)
	}
	task.ChecklistID = checklistID
	s.tasks[taskID] = task
	return nil
}

// UpdateTask replaces the lifecycle fields of a stored task.
func (s *Storage) UpdateTask(_ context.Context, task scheduler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[task.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	existing.Status = task.Status.Persistable()
	existing.CompletedAt = task.CompletedAt
	existing.CompletedByID = task.CompletedByID
	existing.CompletionComment = task.CompletionComment
	existing.CompletionPhotos = task.CompletionPhotos
	existing.UpdatedAt = task.UpdatedAt
	s.tasks[task.ID] = normalizeTask(existing)
	return nil
}

// ListTasks returns tasks matching filter ordered by scheduled start.
func (s *Storage) ListTasks(_ context.Context, filter persistence.TaskFilter) ([]scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objectIDs := toSet(filter.ObjectIDs)
	tasks := make([]scheduler.Task, 0)
	for _, task := range s.tasks {
		if objectIDs != nil && !objectIDs[task.ObjectID] {
			continue
		}
		if filter.ChecklistID != "" && task.ChecklistID != filter.ChecklistID {
			continue
		}
		if filter.StartFrom != nil && task.ScheduledStart.Before(*filter.StartFrom) {
			continue
		}
		if filter.StartTo != nil && task.ScheduledStart.After(*filter.StartTo) {
			continue
		}
		tasks = append(tasks, cloneTask(task))
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].ScheduledStart.Equal(tasks[j].ScheduledStart) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].ScheduledStart.Before(tasks[j].ScheduledStart)
	})
	return tasks, nil
}

func (s *Storage) LastCompletions(_ context.Context, techCardIDs []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := toSet(techCardIDs)
	result := make(map[string]time.Time, len(techCardIDs))
	for _, task := range s.tasks {
		if task.CompletedAt == nil || !wanted[task.TechCardID] {
			continue
		}
		if last, ok := result[task.TechCardID]; !ok || task.CompletedAt.After(last) {
			result[task.TechCardID] = *task.CompletedAt
		}
	}
	return result, nil
}

func (s *Storage) AddComment(_ context.Context, comment scheduler.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[comment.TaskID]; !ok {
		return fmt.Errorf("%w: task %s", persistence.ErrForeignKeyViolation, comment.TaskID)
	}
	s.comments[comment.TaskID] = append(s.comments[comment.TaskID], comment)
	return nil
}

func (s *Storage) ListComments(_ context.Context, taskID string) ([]scheduler.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comments := append([]scheduler.Comment{}, s.comments[taskID]...)
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments, nil
}

// --- ChecklistRepository implementation ---

// CreateChecklist stores a checklist. Object, room and date form a unique key.
func (s *Storage) CreateChecklist(_ context.Context, checklist scheduler.Checklist) error {
	if checklist.ID == "" || checklist.ObjectID == "" || checklist.Date.IsZero() {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.checklists[checklist.ID]; ok {
		return fmt.Errorf("%w: checklist %s", persistence.ErrDuplicate, checklist.ID)
	}
	for _, existing := range s.checklists {
		if existing.ObjectID == checklist.ObjectID && existing.RoomID == checklist.RoomID && existing.Date == checklist.Date {
			return fmt.Errorf("%w: checklist for %s/%s on %s", persistence.ErrDuplicate, checklist.ObjectID, checklist.RoomID, checklist.Date)
		}
	}
	s.checklists[checklist.ID] = cloneChecklist(checklist)
	return nil
}

func (s *Storage) GetChecklist(_ context.Context, id string) (scheduler.Checklist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checklist, ok := s.checklists[id]
	if !ok {
		return scheduler.Checklist{}, persistence.ErrNotFound
	}
	return cloneChecklist(checklist), nil
}

func (s *Storage) ListChecklists(_ context.Context, filter persistence.ChecklistFilter) ([]scheduler.Checklist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checklists := make([]scheduler.Checklist, 0)
	for _, checklist := range s.checklists {
		if filter.ObjectID != "" && checklist.ObjectID != filter.ObjectID {
			continue
		}
		if !filter.Date.IsZero() && checklist.Date != filter.Date {
			continue
		}
		checklists = append(checklists, cloneChecklist(checklist))
	}

	sort.Slice(checklists, func(i, j int) bool {
		a, b := checklists[i], checklists[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.RoomID < b.RoomID
	})
	return checklists, nil
}

func (s *Storage) CountChecklists(_ context.Context, date calendar.Date) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, checklist := range s.checklists {
		if checklist.Date == date {
			count++
		}
	}
	return count, nil
}

func (s *Storage) CountOpenTasks(_ context.Context, checklistID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, task := range s.tasks {
		if task.ChecklistID == checklistID && !task.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// MarkCompleted stamps the completion time once.
func (s *Storage) MarkCompleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checklist, ok := s.checklists[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if checklist.CompletedAt == nil {
		at = at.UTC()
		checklist.CompletedAt = &at
		s.checklists[id] = checklist
	}
	return nil
}

// --- Transactor implementation ---

// WithinTx runs fn with exclusive use of the write repositories. Task,
// comment and checklist state is restored when fn fails.
func (s *Storage) WithinTx(ctx context.Context, fn func(tx persistence.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(storageTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type storageTx struct{ s *Storage }

func (t storageTx) Tasks() persistence.TaskRepository           { return t.s }
func (t storageTx) Checklists() persistence.ChecklistRepository { return t.s }

type snapshot struct {
	tasks      map[string]scheduler.Task
	comments   map[string][]scheduler.Comment
	checklists map[string]scheduler.Checklist
}

func (s *Storage) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		tasks:      make(map[string]scheduler.Task, len(s.tasks)),
		comments:   make(map[string][]scheduler.Comment, len(s.comments)),
		checklists: make(map[string]scheduler.Checklist, len(s.checklists)),
	}
	for id, task := range s.tasks {
		snap.tasks[id] = cloneTask(task)
	}
	for id, comments := range s.comments {
		snap.comments[id] = append([]scheduler.Comment(nil), comments...)
	}
	for id, checklist := range s.checklists {
		snap.checklists[id] = cloneChecklist(checklist)
	}
	return snap
}

func (s *Storage) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = snap.tasks
	s.comments = snap.comments
	s.checklists = snap.checklists
}

// --- helpers ---

func toSet(values []string) map[string]bool {
	if values == nil {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// normalizeTask applies the second precision of the SQL backend so both
// stores return identical values.
func normalizeTask(task scheduler.Task) scheduler.Task {
	task = cloneTask(task)
	task.ScheduledStart = task.ScheduledStart.UTC().Truncate(time.Second)
	task.ScheduledEnd = task.ScheduledEnd.UTC().Truncate(time.Second)
	task.CreatedAt = task.CreatedAt.UTC().Truncate(time.Second)
	task.UpdatedAt = task.UpdatedAt.UTC().Truncate(time.Second)
	if task.CompletedAt != nil {
		at := task.CompletedAt.UTC().Truncate(time.Second)
		task.CompletedAt = &at
	}
	if task.CompletionPhotos == nil {
		task.CompletionPhotos = []string{}
	}
	return task
}

func cloneObject(object scheduler.Object) scheduler.Object {
	if object.Manager != nil {
		manager := *object.Manager
		object.Manager = &manager
	}
	return object
}

func cloneCard(card scheduler.TechCard) scheduler.TechCard {
	if card.Windows != nil {
		card.Windows = append([]recurrence.WindowSpec(nil), card.Windows...)
	}
	return card
}

func cloneTask(task scheduler.Task) scheduler.Task {
	if task.CompletedAt != nil {
		at := *task.CompletedAt
		task.CompletedAt = &at
	}
	if task.CompletionPhotos != nil {
		task.CompletionPhotos = append([]string{}, task.CompletionPhotos...)
	}
	return task
}

func cloneChecklist(checklist scheduler.Checklist) scheduler.Checklist {
	if checklist.CompletedAt != nil {
		at := *checklist.CompletedAt
		checklist.CompletedAt = &at
	}
	return checklist
}
