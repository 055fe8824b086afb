package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
)

// ErrMalformedID indicates a string is not a valid occurrence identifier.
var ErrMalformedID = errors.New("scheduler: malformed occurrence id")

var occurrenceIDPattern = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})(?:-(\d+))?$`)

// Key identifies a virtual occurrence: a tech card on a date, optionally in
// one of several daily windows.
type Key struct {
	TechCardID  string
	Date        calendar.Date
	WindowIndex int
	HasWindow   bool
}

// NewKey builds the key for window index of a card on date. The window suffix
// is only carried when the card has more than one window.
func NewKey(techCardID string, date calendar.Date, windowIndex int, multiWindow bool) Key {
	if !multiWindow {
		return Key{TechCardID: techCardID, Date: date}
	}
	return Key{TechCardID: techCardID, Date: date, WindowIndex: windowIndex, HasWindow: true}
}

// ID renders the deterministic identifier {techCardId}-{YYYY-MM-DD}[-{window}].
func (k Key) ID() string {
	if k.HasWindow {
		return fmt.Sprintf("%s-%s-%d", k.TechCardID, k.Date, k.WindowIndex)
	}
	return fmt.Sprintf("%s-%s", k.TechCardID, k.Date)
}

// ParseOccurrenceID reverses Key.ID.
func ParseOccurrenceID(id string) (Key, error) {
	match := occurrenceIDPattern.FindStringSubmatch(id)
	if match == nil {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	date, err := calendar.ParseDate(match[2])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	key := Key{TechCardID: match[1], Date: date}
	if match[3] != "" {
		index, err := strconv.Atoi(match[3])
		if err != nil {
			return Key{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
		}
		key.WindowIndex = index
		key.HasWindow = true
	}
	if key.ID() != id {
		return Key{}, fmt.Errorf("%w: %q is not canonical", ErrMalformedID, id)
	}
	return key, nil
}

// Virtual is a computed, non-persisted occurrence.
type Virtual struct {
	Key            Key
	ID             string
	Description    string
	WindowName     string
	ObjectID       string
	ObjectName     string
	RoomID         string
	RoomName       string
	Manager        *Manager
	Frequency      string
	FrequencyDays  int
	WorkType       string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Status         TaskStatus
}

// Source tags which side of the union an Occurrence holds.
type Source string

const (
	SourceVirtual      Source = "VIRTUAL"
	SourceMaterialized Source = "MATERIALIZED"
)

// Occurrence is either a Virtual occurrence or a Materialized task. Exactly one
// of Virtual and Task is set. Frequency is display metadata from the card.
type Occurrence struct {
	Virtual   *Virtual
	Task      *Task
	Frequency string
}

// VirtualOccurrence wraps v.
func VirtualOccurrence(v Virtual) Occurrence {
	return Occurrence{Virtual: &v, Frequency: v.Frequency}
}

// MaterializedOccurrence wraps t.
func MaterializedOccurrence(t Task, frequency string) Occurrence {
	return Occurrence{Task: &t, Frequency: frequency}
}

func (o Occurrence) Source() Source {
	if o.Task != nil {
		return SourceMaterialized
	}
	return SourceVirtual
}

func (o Occurrence) ID() string {
	if o.Task != nil {
		return o.Task.ID
	}
	if o.Virtual != nil {
		return o.Virtual.ID
	}
	return ""
}

// Status returns the persisted status when materialized, otherwise the derived one.
func (o Occurrence) Status() TaskStatus {
	if o.Task != nil {
		return o.Task.Status
	}
	if o.Virtual != nil {
		return o.Virtual.Status
	}
	return ""
}

func (o Occurrence) ObjectID() string {
	if o.Task != nil {
		return o.Task.ObjectID
	}
	if o.Virtual != nil {
		return o.Virtual.ObjectID
	}
	return ""
}

// Date is the object-local scheduled date.
func (o Occurrence) Date() calendar.Date {
	if o.Task != nil {
		return o.Task.ScheduledDate
	}
	if o.Virtual != nil {
		return o.Virtual.Key.Date
	}
	return calendar.Date{}
}

func (o Occurrence) ScheduledStart() time.Time {
	if o.Task != nil {
		return o.Task.ScheduledStart
	}
	if o.Virtual != nil {
		return o.Virtual.ScheduledStart
	}
	return time.Time{}
}

func (o Occurrence) ScheduledEnd() time.Time {
	if o.Task != nil {
		return o.Task.ScheduledEnd
	}
	if o.Virtual != nil {
		return o.Virtual.ScheduledEnd
	}
	return time.Time{}
}

func (o Occurrence) CompletedAt() *time.Time {
	if o.Task != nil {
		return o.Task.CompletedAt
	}
	return nil
}

func (o Occurrence) ObjectName() string {
	if o.Task != nil {
		return o.Task.ObjectName
	}
	if o.Virtual != nil {
		return o.Virtual.ObjectName
	}
	return ""
}

func (o Occurrence) TechCardID() string {
	if o.Task != nil {
		return o.Task.TechCardID
	}
	if o.Virtual != nil {
		return o.Virtual.Key.TechCardID
	}
	return ""
}
