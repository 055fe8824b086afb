package http

import (
	"time"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

type managerDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// occurrenceDTO is the wire shape shared by virtual occurrences and stored
// tasks. Source tells the client whether the id already has a row.
type occurrenceDTO struct {
	ID                string      `json:"id"`
	Source            string      `json:"source"`
	TechCardID        string      `json:"techCardId"`
	ChecklistID       string      `json:"checklistId,omitempty"`
	Description       string      `json:"description"`
	ObjectID          string      `json:"objectId"`
	ObjectName        string      `json:"objectName"`
	RoomID            string      `json:"roomId,omitempty"`
	RoomName          string      `json:"roomName,omitempty"`
	Manager           *managerDTO `json:"manager,omitempty"`
	Frequency         string      `json:"frequency,omitempty"`
	WorkType          string      `json:"workType,omitempty"`
	ScheduledDate     string      `json:"scheduledDate"`
	ScheduledStart    string      `json:"scheduledStart"`
	ScheduledEnd      string      `json:"scheduledEnd"`
	WindowIndex       int         `json:"windowIndex"`
	WindowName        string      `json:"windowName,omitempty"`
	Status            string      `json:"status"`
	CompletedAt       *string     `json:"completedAt,omitempty"`
	CompletedByID     string      `json:"completedById,omitempty"`
	CompletionComment string      `json:"completionComment,omitempty"`
	CompletionPhotos  []string    `json:"completionPhotos,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	value := formatTime(*t)
	return &value
}

func toTaskDTO(task scheduler.Task, frequency string) occurrenceDTO {
	return occurrenceDTO{
		ID:                task.ID,
		Source:            string(scheduler.SourceMaterialized),
		TechCardID:        task.TechCardID,
		ChecklistID:       task.ChecklistID,
		Description:       task.Description,
		ObjectID:          task.ObjectID,
		ObjectName:        task.ObjectName,
		RoomID:            task.RoomID,
		RoomName:          task.RoomName,
		Frequency:         frequency,
		ScheduledDate:     task.ScheduledDate.String(),
		ScheduledStart:    formatTime(task.ScheduledStart),
		ScheduledEnd:      formatTime(task.ScheduledEnd),
		WindowIndex:       task.WindowIndex,
		WindowName:        task.WindowName,
		Status:            string(task.Status),
		CompletedAt:       formatTimePtr(task.CompletedAt),
		CompletedByID:     task.CompletedByID,
		CompletionComment: task.CompletionComment,
		CompletionPhotos:  task.CompletionPhotos,
	}
}

func toVirtualDTO(v scheduler.Virtual) occurrenceDTO {
	dto := occurrenceDTO{
		ID:             v.ID,
		Source:         string(scheduler.SourceVirtual),
		TechCardID:     v.Key.TechCardID,
		Description:    v.Description,
		ObjectID:       v.ObjectID,
		ObjectName:     v.ObjectName,
		RoomID:         v.RoomID,
		RoomName:       v.RoomName,
		Frequency:      v.Frequency,
		WorkType:       v.WorkType,
		ScheduledDate:  v.Key.Date.String(),
		ScheduledStart: formatTime(v.ScheduledStart),
		ScheduledEnd:   formatTime(v.ScheduledEnd),
		WindowIndex:    v.Key.WindowIndex,
		WindowName:     v.WindowName,
		Status:         string(v.Status),
	}
	if v.Manager != nil {
		dto.Manager = &managerDTO{ID: v.Manager.ID, Name: v.Manager.Name, Phone: v.Manager.Phone}
	}
	return dto
}

func toOccurrenceDTO(o scheduler.Occurrence) occurrenceDTO {
	if o.Task != nil {
		return toTaskDTO(*o.Task, o.Frequency)
	}
	if o.Virtual != nil {
		return toVirtualDTO(*o.Virtual)
	}
	return occurrenceDTO{}
}

func toOccurrenceDTOs(list []scheduler.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(list))
	for _, o := range list {
		out = append(out, toOccurrenceDTO(o))
	}
	return out
}

type commentDTO struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	AuthorID  string `json:"authorId"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

func toCommentDTO(c scheduler.Comment) commentDTO {
	return commentDTO{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Text:      c.Text,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func toCommentDTOs(list []scheduler.Comment) []commentDTO {
	out := make([]commentDTO, 0, len(list))
	for _, c := range list {
		out = append(out, toCommentDTO(c))
	}
	return out
}

type calendarResponse struct {
	Overdue   []occurrenceDTO          `json:"overdue"`
	Today     []occurrenceDTO          `json:"today"`
	Upcoming  []occurrenceDTO          `json:"upcoming"`
	Completed []occurrenceDTO          `json:"completed"`
	ByManager []scheduler.ManagerGroup `json:"byManager,omitempty"`
	ByObject  []scheduler.ObjectGroup  `json:"byObject,omitempty"`
	Total     int                      `json:"total"`
	Role      string                   `json:"role"`
	BaseDate  calendar.Date            `json:"baseDate"`
}

func toCalendarResponse(result application.CalendarResult) calendarResponse {
	return calendarResponse{
		Overdue:   toOccurrenceDTOs(result.Overdue),
		Today:     toOccurrenceDTOs(result.Today),
		Upcoming:  toOccurrenceDTOs(result.Upcoming),
		Completed: toOccurrenceDTOs(result.Completed),
		ByManager: result.ByManager,
		ByObject:  result.ByObject,
		Total:     result.Total,
		Role:      string(result.Role),
		BaseDate:  result.BaseDate,
	}
}

type materializeRequest struct {
	Action string `json:"action"`
}

type completeRequest struct {
	Comment        string   `json:"comment"`
	Photos         []string `json:"photos"`
	CloseWithPhoto bool     `json:"closeWithPhoto"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type commentResponse struct {
	Task    occurrenceDTO `json:"task"`
	Comment commentDTO    `json:"comment"`
}
