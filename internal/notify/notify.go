// Package notify delivers task and checklist lifecycle events to external
// sinks such as the Telegram bridge or the audit log.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventTaskCompleted      EventType = "task.completed"
	EventChecklistCompleted EventType = "checklist.completed"
	EventChecklistsCreated  EventType = "checklists.created"
)

// Event is the structured payload handed to every sink.
type Event struct {
	Type        EventType      `json:"type"`
	OccurredAt  time.Time      `json:"occurredAt"`
	TaskID      string         `json:"taskId,omitempty"`
	ChecklistID string         `json:"checklistId,omitempty"`
	ObjectID    string         `json:"objectId"`
	ActorID     string         `json:"actorId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Notifier publishes events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the logger. It is the default sink.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("event",
		zap.String("event_type", string(event.Type)),
		zap.Time("occurred_at", event.OccurredAt),
		zap.String("object_id", event.ObjectID),
		zap.String("task_id", event.TaskID),
		zap.String("checklist_id", event.ChecklistID),
		zap.String("actor_id", event.ActorID),
		zap.Any("payload", event.Payload),
	)
	return nil
}

// Multi fans an event out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
