package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/notify"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// Repositories bundles the stores the services read and write. Reads outside
// a transaction go through the repository fields; writes go through Tx.
type Repositories struct {
	Objects    persistence.ObjectRepository
	TechCards  persistence.TechCardRepository
	Tasks      persistence.TaskRepository
	Checklists persistence.ChecklistRepository
	Tx         persistence.Transactor
}

func (r Repositories) validate() error {
	if r.Objects == nil || r.TechCards == nil || r.Tasks == nil || r.Checklists == nil || r.Tx == nil {
		return errors.New("repositories not configured")
	}
	return nil
}

// TaskService materializes virtual occurrences on first interaction and
// applies the task lifecycle.
type TaskService struct {
	repos       Repositories
	generator   *scheduler.Generator
	notifier    notify.Notifier
	idGenerator func() string
	now         func() time.Time
	logger      *zap.Logger
}

// NewTaskService wires dependencies for task operations.
func NewTaskService(repos Repositories, generator *scheduler.Generator, notifier notify.Notifier, idGenerator func() string, now func() time.Time, logger *zap.Logger) *TaskService {
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &TaskService{
		repos:       repos,
		generator:   generator,
		notifier:    notifier,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *TaskService) loggerWith(ctx context.Context, operation string, fields ...zap.Field) *zap.Logger {
	return serviceLogger(ctx, s.logger, "TaskService", operation, fields...)
}

func (s *TaskService) ready() error {
	if s == nil {
		return fmt.Errorf("TaskService is nil")
	}
	if s.generator == nil {
		return fmt.Errorf("TaskService generator not configured")
	}
	return s.repos.validate()
}

// resolution is what an occurrence id points at: either an existing row or a
// freshly projected virtual occurrence.
type resolution struct {
	existing *scheduler.Task
	object   scheduler.Object
	card     scheduler.TechCard
	virtual  scheduler.Virtual
}

// resolve looks the id up as a stored task first, so checklist tasks with
// non-occurrence ids stay addressable. An occurrence id whose card, date and
// window are already stored under another id, typically by the checklist
// generator, resolves to that row. Anything else is projected.
func (s *TaskService) resolve(ctx context.Context, principal Principal, id string) (resolution, error) {
	if !principal.Role.Valid() || principal.UserID == "" {
		return resolution{}, ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return resolution{}, ErrNotFound
	}

	task, err := s.repos.Tasks.GetTask(ctx, id)
	switch {
	case err == nil:
		return s.resolveStored(ctx, principal, task)
	case !errors.Is(err, persistence.ErrNotFound):
		return resolution{}, fmt.Errorf("load task %s: %w", id, err)
	}

	key, err := scheduler.ParseOccurrenceID(id)
	if err != nil {
		return resolution{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	task, err = s.repos.Tasks.FindOccurrenceTask(ctx, key.TechCardID, key.Date, key.WindowIndex)
	switch {
	case err == nil:
		return s.resolveStored(ctx, principal, task)
	case !errors.Is(err, persistence.ErrNotFound):
		return resolution{}, fmt.Errorf("find stored occurrence %s: %w", id, err)
	}

	card, err := s.repos.TechCards.GetTechCard(ctx, key.TechCardID)
	if errors.Is(err, persistence.ErrNotFound) {
		return resolution{}, ErrOccurrenceRemoved
	}
	if err != nil {
		return resolution{}, fmt.Errorf("load tech card %s: %w", key.TechCardID, err)
	}
	if !card.Active {
		return resolution{}, ErrOccurrenceRemoved
	}

	object, err := s.repos.Objects.GetObject(ctx, card.ObjectID)
	if errors.Is(err, persistence.ErrNotFound) {
		return resolution{}, ErrOccurrenceRemoved
	}
	if err != nil {
		return resolution{}, fmt.Errorf("load object %s: %w", card.ObjectID, err)
	}
	if !principal.canActOn(object) {
		return resolution{}, ErrUnauthorized
	}

	last, err := s.repos.Tasks.LastCompletions(ctx, []string{card.ID})
	if err != nil {
		return resolution{}, fmt.Errorf("load last completion of %s: %w", card.ID, err)
	}
	cc := scheduler.CardContext{Card: card, Object: object}
	if at, ok := last[card.ID]; ok {
		cc.LastExecution = &at
	}

	virtual, err := s.generator.Project(ctx, cc, key, s.now())
	if errors.Is(err, scheduler.ErrNotScheduled) {
		return resolution{}, fmt.Errorf("%w: %s is not scheduled", ErrNotFound, id)
	}
	if err != nil {
		return resolution{}, err
	}
	return resolution{object: object, card: card, virtual: virtual}, nil
}

func (s *TaskService) resolveStored(ctx context.Context, principal Principal, task scheduler.Task) (resolution, error) {
	object, err := s.repos.Objects.GetObject(ctx, task.ObjectID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return resolution{}, fmt.Errorf("load object %s: %w", task.ObjectID, err)
	}
	if err != nil {
		object = scheduler.Object{ID: task.ObjectID, Name: task.ObjectName}
	}
	if !principal.canActOn(object) {
		return resolution{}, ErrUnauthorized
	}
	return resolution{existing: &task, object: object}, nil
}

// taskFromVirtual builds the row a virtual occurrence materializes into.
func taskFromVirtual(v scheduler.Virtual, status scheduler.TaskStatus, now time.Time) scheduler.Task {
	return scheduler.Task{
		ID:               v.ID,
		TechCardID:       v.Key.TechCardID,
		Description:      v.Description,
		ObjectID:         v.ObjectID,
		ObjectName:       v.ObjectName,
		RoomID:           v.RoomID,
		RoomName:         v.RoomName,
		ScheduledDate:    v.Key.Date,
		ScheduledStart:   v.ScheduledStart,
		ScheduledEnd:     v.ScheduledEnd,
		WindowIndex:      v.Key.WindowIndex,
		WindowName:       v.WindowName,
		Status:           status.Persistable(),
		CompletionPhotos: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func initialStatus(action Action, v scheduler.Virtual) scheduler.TaskStatus {
	switch action {
	case ActionStart:
		return scheduler.StatusInProgress
	case ActionComplete:
		return scheduler.StatusCompleted
	default:
		return v.Status.Persistable()
	}
}

// insertOrLoad inserts task unless its occurrence is already stored and
// returns the stored row. Losing a race is not an error: the winner's row is
// returned, even when the winner stored it under a checklist task id.
func insertOrLoad(ctx context.Context, tasks persistence.TaskRepository, task scheduler.Task) (scheduler.Task, bool, error) {
	inserted, err := tasks.CreateTaskIfAbsent(ctx, task)
	if err != nil && !errors.Is(err, persistence.ErrDuplicate) {
		return scheduler.Task{}, false, fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	stored, err := tasks.GetTask(ctx, task.ID)
	if errors.Is(err, persistence.ErrNotFound) && !inserted {
		stored, err = tasks.FindOccurrenceTask(ctx, task.TechCardID, task.ScheduledDate, task.WindowIndex)
	}
	if err != nil {
		return scheduler.Task{}, false, fmt.Errorf("reload task %s: %w", task.ID, err)
	}
	return stored, inserted, nil
}

// Materialize persists the occurrence with the status implied by the action.
// An existing row is returned unchanged.
func (s *TaskService) Materialize(ctx context.Context, params MaterializeParams) (task scheduler.Task, err error) {
	if err = s.ready(); err != nil {
		return scheduler.Task{}, err
	}

	logger := s.loggerWith(ctx, "Materialize",
		zap.String("occurrence_id", params.OccurrenceID),
		zap.String("action", string(params.Action)),
		zap.String("principal_id", params.Principal.UserID),
	)
	created := false
	defer func() {
		if err != nil {
			logger.Warn("materialization failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("occurrence materialized", zap.String("task_id", task.ID), zap.Bool("created", created))
	}()

	if !params.Action.Valid() {
		vErr := &ValidationError{}
		vErr.add("action", "must be one of start, complete, comment")
		return scheduler.Task{}, vErr
	}

	res, err := s.resolve(ctx, params.Principal, params.OccurrenceID)
	if err != nil {
		return scheduler.Task{}, err
	}
	if res.existing != nil {
		return *res.existing, nil
	}
	if params.Action == ActionComplete {
		// completion without evidence still has to satisfy the object requirements
		task, err = s.Complete(ctx, CompleteParams{Principal: params.Principal, OccurrenceID: params.OccurrenceID})
		created = err == nil
		return task, err
	}

	candidate := taskFromVirtual(res.virtual, initialStatus(params.Action, res.virtual), s.now())
	err = s.repos.Tx.WithinTx(ctx, func(tx persistence.Tx) error {
		var txErr error
		task, created, txErr = insertOrLoad(ctx, tx.Tasks(), candidate)
		return txErr
	})
	if err != nil {
		return scheduler.Task{}, err
	}
	return task, nil
}

// Start materializes the occurrence as IN_PROGRESS, or moves an existing
// open task there. Terminal and in-progress tasks are returned unchanged.
func (s *TaskService) Start(ctx context.Context, principal Principal, occurrenceID string) (task scheduler.Task, err error) {
	if err = s.ready(); err != nil {
		return scheduler.Task{}, err
	}

	logger := s.loggerWith(ctx, "Start",
		zap.String("occurrence_id", occurrenceID),
		zap.String("principal_id", principal.UserID),
	)
	defer func() {
		if err != nil {
			logger.Warn("start failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("task started", zap.String("task_id", task.ID), zap.String("status", string(task.Status)))
	}()

	res, err := s.resolve(ctx, principal, occurrenceID)
	if err != nil {
		return scheduler.Task{}, err
	}

	now := s.now()
	var candidate scheduler.Task
	if res.existing != nil {
		candidate = *res.existing
	} else {
		candidate = taskFromVirtual(res.virtual, scheduler.StatusInProgress, now)
	}

	err = s.repos.Tx.WithinTx(ctx, func(tx persistence.Tx) error {
		stored, inserted, txErr := insertOrLoad(ctx, tx.Tasks(), candidate)
		if txErr != nil {
			return txErr
		}
		task = stored
		if inserted || !startable(stored.Status) {
			return nil
		}
		task.Status = scheduler.StatusInProgress
		task.UpdatedAt = now
		return tx.Tasks().UpdateTask(ctx, task)
	})
	if err != nil {
		return scheduler.Task{}, err
	}
	return task, nil
}

func startable(status scheduler.TaskStatus) bool {
	switch status {
	case scheduler.StatusNew, scheduler.StatusAvailable, scheduler.StatusOverdue:
		return true
	default:
		return false
	}
}

// Complete validates the completion evidence against the object's
// requirements and closes the task. The checklist is closed in the same
// transaction once its last open task completes.
func (s *TaskService) Complete(ctx context.Context, params CompleteParams) (task scheduler.Task, err error) {
	if err = s.ready(); err != nil {
		return scheduler.Task{}, err
	}

	logger := s.loggerWith(ctx, "Complete",
		zap.String("occurrence_id", params.OccurrenceID),
		zap.String("principal_id", params.Principal.UserID),
		zap.Int("photos", len(params.Photos)),
	)
	defer func() {
		if err != nil {
			logger.Warn("completion failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("task completed", zap.String("task_id", task.ID), zap.String("status", string(task.Status)))
	}()

	res, err := s.resolve(ctx, params.Principal, params.OccurrenceID)
	if err != nil {
		return scheduler.Task{}, err
	}
	if res.existing != nil && res.existing.Status.IsTerminal() {
		return *res.existing, nil
	}

	photos := cleanPhotos(params.Photos)
	comment := strings.TrimSpace(params.Comment)
	if vErr := validateCompletion(res.object.Requirements, comment, photos, params.CloseWithPhoto); vErr.HasErrors() {
		return scheduler.Task{}, vErr
	}

	now := s.now()
	status := scheduler.StatusCompleted
	if params.CloseWithPhoto {
		status = scheduler.StatusClosedWithPhoto
	}
	complete := func(t scheduler.Task) scheduler.Task {
		t.Status = status
		t.CompletedAt = &now
		t.CompletedByID = params.Principal.UserID
		t.CompletionComment = comment
		t.CompletionPhotos = photos
		t.UpdatedAt = now
		return t
	}

	var candidate scheduler.Task
	if res.existing != nil {
		candidate = *res.existing
	} else {
		candidate = complete(taskFromVirtual(res.virtual, status, now))
	}

	var (
		changed         bool
		closedChecklist string
	)
	err = s.repos.Tx.WithinTx(ctx, func(tx persistence.Tx) error {
		changed, closedChecklist = false, ""
		stored, inserted, txErr := insertOrLoad(ctx, tx.Tasks(), candidate)
		if txErr != nil {
			return txErr
		}
		task = stored
		if !inserted {
			if stored.Status.IsTerminal() {
				return nil
			}
			task = complete(stored)
			if txErr := tx.Tasks().UpdateTask(ctx, task); txErr != nil {
				return fmt.Errorf("update task %s: %w", task.ID, txErr)
			}
		}
		changed = true

		if task.ChecklistID == "" {
			return nil
		}
		open, txErr := tx.Checklists().CountOpenTasks(ctx, task.ChecklistID)
		if txErr != nil {
			return fmt.Errorf("count open tasks of %s: %w", task.ChecklistID, txErr)
		}
		if open > 0 {
			return nil
		}
		if txErr := tx.Checklists().MarkCompleted(ctx, task.ChecklistID, now); txErr != nil {
			return fmt.Errorf("complete checklist %s: %w", task.ChecklistID, txErr)
		}
		closedChecklist = task.ChecklistID
		return nil
	})
	if err != nil {
		return scheduler.Task{}, err
	}

	if changed {
		s.publish(ctx, logger, notify.Event{
			Type:        notify.EventTaskCompleted,
			OccurredAt:  now,
			TaskID:      task.ID,
			ChecklistID: task.ChecklistID,
			ObjectID:    task.ObjectID,
			ActorID:     params.Principal.UserID,
			Payload: map[string]any{
				"status":      string(task.Status),
				"description": task.Description,
				"photos":      len(task.CompletionPhotos),
			},
		})
	}
	if closedChecklist != "" {
		s.publish(ctx, logger, notify.Event{
			Type:        notify.EventChecklistCompleted,
			OccurredAt:  now,
			ChecklistID: closedChecklist,
			ObjectID:    task.ObjectID,
			ActorID:     params.Principal.UserID,
		})
	}
	return task, nil
}

func (s *TaskService) publish(ctx context.Context, logger *zap.Logger, event notify.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		logger.Warn("notification failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func cleanPhotos(photos []string) []string {
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateCompletion(req scheduler.CompletionRequirements, comment string, photos []string, closeWithPhoto bool) *ValidationError {
	vErr := &ValidationError{}
	if closeWithPhoto && len(photos) == 0 {
		vErr.add("photos", "closing with photo requires at least one photo")
	}
	if need := req.RequiredPhotos(); len(photos) < need {
		vErr.add("photos", fmt.Sprintf("at least %d photo(s) required, got %d", need, len(photos)))
	}
	if req.RequireComment && comment == "" {
		vErr.add("comment", "comment is required")
	}
	return vErr
}

// Comment attaches a note to the occurrence, materializing it first. The task
// and the comment are written in one transaction.
func (s *TaskService) Comment(ctx context.Context, params CommentParams) (result CommentResult, err error) {
	if err = s.ready(); err != nil {
		return CommentResult{}, err
	}

	logger := s.loggerWith(ctx, "Comment",
		zap.String("occurrence_id", params.OccurrenceID),
		zap.String("principal_id", params.Principal.UserID),
	)
	defer func() {
		if err != nil {
			logger.Warn("comment failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("comment added", zap.String("task_id", result.Task.ID), zap.String("comment_id", result.Comment.ID))
	}()

	text := strings.TrimSpace(params.Text)
	if text == "" {
		vErr := &ValidationError{}
		vErr.add("text", "comment text is required")
		return CommentResult{}, vErr
	}

	res, err := s.resolve(ctx, params.Principal, params.OccurrenceID)
	if err != nil {
		return CommentResult{}, err
	}

	now := s.now()
	var candidate scheduler.Task
	if res.existing != nil {
		candidate = *res.existing
	} else {
		candidate = taskFromVirtual(res.virtual, initialStatus(ActionComment, res.virtual), now)
	}

	err = s.repos.Tx.WithinTx(ctx, func(tx persistence.Tx) error {
		stored, _, txErr := insertOrLoad(ctx, tx.Tasks(), candidate)
		if txErr != nil {
			return txErr
		}
		comment := scheduler.Comment{
			ID:        s.idGenerator(),
			TaskID:    stored.ID,
			AuthorID:  params.Principal.UserID,
			Text:      text,
			CreatedAt: now.UTC().Truncate(time.Second),
		}
		if txErr := tx.Tasks().AddComment(ctx, comment); txErr != nil {
			return fmt.Errorf("add comment to %s: %w", stored.ID, txErr)
		}
		result = CommentResult{Task: stored, Comment: comment}
		return nil
	})
	if err != nil {
		return CommentResult{}, err
	}
	return result, nil
}

// GetTask returns the stored task for id, or the current virtual projection
// when it was never materialized.
func (s *TaskService) GetTask(ctx context.Context, principal Principal, id string) (scheduler.Occurrence, error) {
	if err := s.ready(); err != nil {
		return scheduler.Occurrence{}, err
	}
	res, err := s.resolve(ctx, principal, id)
	if err != nil {
		s.loggerWith(ctx, "GetTask", zap.String("occurrence_id", id)).
			Debug("task lookup failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
		return scheduler.Occurrence{}, err
	}
	if res.existing == nil {
		return scheduler.VirtualOccurrence(res.virtual), nil
	}

	frequency := ""
	if card, err := s.repos.TechCards.GetTechCard(ctx, res.existing.TechCardID); err == nil {
		frequency = card.Frequency
	}
	return scheduler.MaterializedOccurrence(*res.existing, frequency), nil
}

// Comments lists the notes of a stored task.
func (s *TaskService) Comments(ctx context.Context, principal Principal, taskID string) ([]scheduler.Comment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	res, err := s.resolve(ctx, principal, taskID)
	if err != nil {
		return nil, err
	}
	if res.existing == nil {
		return []scheduler.Comment{}, nil
	}
	return s.repos.Tasks.ListComments(ctx, res.existing.ID)
}
