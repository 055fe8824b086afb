package application

import (
	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Role   scheduler.Role
}

// canActOn reports whether the principal may touch the object.
func (p Principal) canActOn(object scheduler.Object) bool {
	if p.Role.SeesEverything() {
		return true
	}
	return p.Role == scheduler.RoleManager && object.ManagedBy(p.UserID)
}

// Action selects the initial status of a materialized task.
type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionComment  Action = "comment"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionComplete, ActionComment:
		return true
	default:
		return false
	}
}

// MaterializeParams identifies the occurrence to persist.
type MaterializeParams struct {
	Principal    Principal
	OccurrenceID string
	Action       Action
}

// CompleteParams carries the completion evidence for an occurrence.
type CompleteParams struct {
	Principal      Principal
	OccurrenceID   string
	Comment        string
	Photos         []string
	CloseWithPhoto bool
}

type CommentParams struct {
	Principal    Principal
	OccurrenceID string
	Text         string
}

// CommentResult is the task a comment was attached to plus the stored comment.
type CommentResult struct {
	Task    scheduler.Task
	Comment scheduler.Comment
}

// CalendarParams selects the scope of a calendar read. A zero BaseDate means
// today in the fallback zone.
type CalendarParams struct {
	Principal Principal
	BaseDate  calendar.Date
	ObjectID  string
}

// CalendarResult is the grouped, role-scoped calendar.
type CalendarResult struct {
	scheduler.Groups
	ByManager []scheduler.ManagerGroup
	ByObject  []scheduler.ObjectGroup
	Total     int
	Role      scheduler.Role
	BaseDate  calendar.Date
}

// SkippedObject names an object the auto-generator did not process and why.
type SkippedObject struct {
	ObjectID string `json:"objectId"`
	Reason   string `json:"reason"`
}

// FailedObject names an object whose generation failed.
type FailedObject struct {
	ObjectID string `json:"objectId"`
	Error    string `json:"error"`
}

// GenerateResult summarizes one auto-generation run. CreatedCount counts checklists.
type GenerateResult struct {
	CreatedCount   int             `json:"createdCount"`
	CreatedTasks   int             `json:"createdTasks"`
	AdoptedTasks   int             `json:"adoptedTasks"`
	SkippedObjects []SkippedObject `json:"skippedObjects"`
	FailedObjects  []FailedObject  `json:"failedObjects"`
}

// GeneratorStatus reports the checklist coverage of the fallback-zone today.
type GeneratorStatus struct {
	ChecklistsToday         int           `json:"checklistsToday"`
	TotalObjects            int           `json:"totalObjects"`
	AutoEnabledObjects      int           `json:"autoEnabledObjects"`
	TotalRoomsWithTechCards int           `json:"totalRoomsWithTechCards"`
	Date                    calendar.Date `json:"date"`
}
