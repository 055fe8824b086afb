package scheduler

import (
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/recurrence"
)

// TaskStatus is the lifecycle state of a task or occurrence.
type TaskStatus string

const (
	// StatusPending is a derived status for future virtual occurrences. It is
	// never persisted; NEW is stored instead.
	StatusPending         TaskStatus = "PENDING"
	StatusNew             TaskStatus = "NEW"
	StatusAvailable       TaskStatus = "AVAILABLE"
	StatusInProgress      TaskStatus = "IN_PROGRESS"
	StatusOverdue         TaskStatus = "OVERDUE"
	StatusCompleted       TaskStatus = "COMPLETED"
	StatusClosedWithPhoto TaskStatus = "CLOSED_WITH_PHOTO"
)

// IsTerminal reports whether the status is a completed state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusClosedWithPhoto
}

// Persistable maps a derived status onto the stored task enum.
func (s TaskStatus) Persistable() TaskStatus {
	if s == StatusPending {
		return StatusNew
	}
	return s
}

// Role is the caller role supplied by the authentication collaborator.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleDeputyAdmin Role = "DEPUTY_ADMIN"
	RoleManager     Role = "MANAGER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDeputyAdmin, RoleManager:
		return true
	default:
		return false
	}
}

// SeesEverything reports whether the role has global scope.
func (r Role) SeesEverything() bool {
	return r == RoleAdmin || r == RoleDeputyAdmin
}

type Manager struct {
	ID    string
	Name  string
	Phone string
}

// CompletionRequirements are the per-object rules checked before completion.
type CompletionRequirements struct {
	RequirePhoto   bool
	MinPhotos      int
	RequireComment bool
}

// RequiredPhotos returns the minimum number of photos a completion must carry.
func (r CompletionRequirements) RequiredPhotos() int {
	if !r.RequirePhoto {
		return 0
	}
	if r.MinPhotos < 1 {
		return 1
	}
	return r.MinPhotos
}

// Object is the scheduler's read view of a cleaning object.
type Object struct {
	ID             string
	Name           string
	Manager        *Manager
	Calendar       calendar.Settings
	AutoChecklists bool
	Requirements   CompletionRequirements
}

// ManagedBy reports whether userID manages the object.
func (o Object) ManagedBy(userID string) bool {
	return o.Manager != nil && userID != "" && o.Manager.ID == userID
}

type Room struct {
	ID       string
	ObjectID string
	Name     string
}

// TechCard is a recurring cleaning duty. It is read-only for the scheduler.
type TechCard struct {
	ID          string
	ObjectID    string
	RoomID      string
	RoomName    string
	Name        string
	Description string
	WorkType    string
	Frequency   string
	TimeOfDay   string
	Windows     []recurrence.WindowSpec
	Active      bool
	CreatedAt   time.Time
}

// Spec returns the periodicity input for the frequency resolver.
func (c TechCard) Spec() recurrence.Spec {
	return recurrence.Spec{Frequency: c.Frequency, TimeOfDay: c.TimeOfDay, Windows: c.Windows}
}

// Task is a persisted task row.
type Task struct {
	ID                string
	TechCardID        string
	ChecklistID       string
	Description       string
	ObjectID          string
	ObjectName        string
	RoomID            string
	RoomName          string
	ScheduledDate     calendar.Date
	ScheduledStart    time.Time
	ScheduledEnd      time.Time
	WindowIndex       int
	WindowName        string
	Status            TaskStatus
	CompletedAt       *time.Time
	CompletedByID     string
	CompletionComment string
	CompletionPhotos  []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Comment is a note attached to a task.
type Comment struct {
	ID        string
	TaskID    string
	AuthorID  string
	Text      string
	CreatedAt time.Time
}

// Checklist groups the tasks generated for one object (and optional room) on
// one date.
type Checklist struct {
	ID          string
	ObjectID    string
	ObjectName  string
	RoomID      string
	RoomName    string
	Date        calendar.Date
	CreatedAt   time.Time
	CompletedAt *time.Time
}
