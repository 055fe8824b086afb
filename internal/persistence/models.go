package persistence

import (
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
)

// ObjectFilter narrows object queries. Zero values match everything.
type ObjectFilter struct {
	IDs                []string
	ManagerID          string
	AutoChecklistsOnly bool
}

// TechCardFilter narrows tech card queries.
type TechCardFilter struct {
	ObjectIDs  []string
	ActiveOnly bool
}

// TaskFilter narrows task queries. StartFrom and StartTo bound scheduled_start
// inclusively when set.
type TaskFilter struct {
	ObjectIDs   []string
	ChecklistID string
	StartFrom   *time.Time
	StartTo     *time.Time
}

// ChecklistFilter narrows checklist queries.
type ChecklistFilter struct {
	ObjectID string
	Date     calendar.Date
}
