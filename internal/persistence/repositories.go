package persistence

import (
	"context"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// ObjectRepository reads cleaning objects and their rooms.
type ObjectRepository interface {
	GetObject(ctx context.Context, id string) (scheduler.Object, error)
	ListObjects(ctx context.Context, filter ObjectFilter) ([]scheduler.Object, error)
	ListRooms(ctx context.Context, objectID string) ([]scheduler.Room, error)
}

// TechCardRepository reads tech cards.
type TechCardRepository interface {
	GetTechCard(ctx context.Context, id string) (scheduler.TechCard, error)
	ListTechCards(ctx context.Context, filter TechCardFilter) ([]scheduler.TechCard, error)
	CountRoomsWithTechCards(ctx context.Context) (int, error)
}

// TaskRepository stores materialized tasks and their comments.
type TaskRepository interface {
	// CreateTaskIfAbsent inserts task unless a row with the same id, or for the
	// same card, date and window, exists. It reports whether this call
	// inserted the row.
	CreateTaskIfAbsent(ctx context.Context, task scheduler.Task) (bool, error)
	GetTask(ctx context.Context, id string) (scheduler.Task, error)
	// FindOccurrenceTask returns the task stored for one card, date and window
	// regardless of its id, or ErrNotFound.
	FindOccurrenceTask(ctx context.Context, techCardID string, date calendar.Date, windowIndex int) (scheduler.Task, error)
	// AttachToChecklist links a task that belongs to no checklist yet. It
	// returns ErrNotFound when no such unattached task exists.
	AttachToChecklist(ctx context.Context, taskID, checklistID string) error
	UpdateTask(ctx context.Context, task scheduler.Task) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]scheduler.Task, error)
	// LastCompletions returns the latest completion instant per tech card.
	LastCompletions(ctx context.Context, techCardIDs []string) (map[string]time.Time, error)
	AddComment(ctx context.Context, comment scheduler.Comment) error
	ListComments(ctx context.Context, taskID string) ([]scheduler.Comment, error)
}

// ChecklistRepository stores checklists.
type ChecklistRepository interface {
	CreateChecklist(ctx context.Context, checklist scheduler.Checklist) error
	GetChecklist(ctx context.Context, id string) (scheduler.Checklist, error)
	ListChecklists(ctx context.Context, filter ChecklistFilter) ([]scheduler.Checklist, error)
	CountChecklists(ctx context.Context, date calendar.Date) (int, error)
	// CountOpenTasks counts tasks of the checklist that are not in a terminal status.
	CountOpenTasks(ctx context.Context, checklistID string) (int, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) error
}

// Tx exposes the write repositories bound to one transaction.
type Tx interface {
	Tasks() TaskRepository
	Checklists() ChecklistRepository
}

// Transactor runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
