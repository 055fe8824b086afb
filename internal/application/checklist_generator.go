package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/lock"
	"github.com/example/cleaning-scheduler/internal/notify"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

const (
	// DefaultGeneratorConcurrency bounds how many objects are processed at once.
	DefaultGeneratorConcurrency = 4
	// DefaultGeneratorLockTTL bounds how long a crashed run blocks an object.
	DefaultGeneratorLockTTL = 10 * time.Minute
)

// Skip reasons reported in GenerateResult.
const (
	SkipNonWorkingDay   = "non_working_day"
	SkipAlreadyExists   = "already_generated"
	SkipLocked          = "locked"
	SkipNothingToCreate = "no_tasks_today"
)

// ChecklistGenerator eagerly creates today's checklists for objects with
// auto-generation enabled. It is triggered externally, usually by cron.
type ChecklistGenerator struct {
	repos       Repositories
	generator   *scheduler.Generator
	calendar    *calendar.Adapter
	locker      lock.Locker
	lockTTL     time.Duration
	notifier    notify.Notifier
	idGenerator func() string
	now         func() time.Time
	logger      *zap.Logger
	concurrency int
}

// NewChecklistGenerator wires dependencies for checklist generation. A nil
// locker falls back to an in-process lock.
func NewChecklistGenerator(repos Repositories, generator *scheduler.Generator, adapter *calendar.Adapter, locker lock.Locker, lockTTL time.Duration, notifier notify.Notifier, idGenerator func() string, now func() time.Time, logger *zap.Logger) *ChecklistGenerator {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultGeneratorLockTTL
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ChecklistGenerator{
		repos:       repos,
		generator:   generator,
		calendar:    adapter,
		locker:      locker,
		lockTTL:     lockTTL,
		notifier:    notifier,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
		concurrency: DefaultGeneratorConcurrency,
	}
}

func (g *ChecklistGenerator) ready() error {
	if g == nil || g.generator == nil || g.calendar == nil {
		return fmt.Errorf("ChecklistGenerator is nil")
	}
	return g.repos.validate()
}

type objectOutcome struct {
	checklists int
	tasks      int
	adopted    int
	skipped    string
}

// Generate runs one pass over every auto-enabled object. A nil principal
// means the caller was authorized by cron token; otherwise it must be ADMIN.
// Objects fail independently; their errors are reported, not returned.
func (g *ChecklistGenerator) Generate(ctx context.Context, principal *Principal) (result GenerateResult, err error) {
	if err = g.ready(); err != nil {
		return GenerateResult{}, err
	}

	actor := "cron"
	if principal != nil {
		actor = principal.UserID
	}
	logger := serviceLogger(ctx, g.logger, "ChecklistGenerator", "Generate", zap.String("actor", actor))
	defer func() {
		if err != nil {
			logger.Error("checklist generation failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("checklist generation finished",
			zap.Int("created_checklists", result.CreatedCount),
			zap.Int("created_tasks", result.CreatedTasks),
			zap.Int("skipped_objects", len(result.SkippedObjects)),
			zap.Int("failed_objects", len(result.FailedObjects)),
		)
	}()

	if principal != nil && principal.Role != scheduler.RoleAdmin {
		return GenerateResult{}, ErrUnauthorized
	}

	objects, err := g.repos.Objects.ListObjects(ctx, persistence.ObjectFilter{AutoChecklistsOnly: true})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("list objects: %w", err)
	}

	now := g.now()
	result = GenerateResult{SkippedObjects: []SkippedObject{}, FailedObjects: []FailedObject{}}
	var mu sync.Mutex

	var group errgroup.Group
	group.SetLimit(g.concurrency)
	for _, object := range objects {
		object := object
		group.Go(func() error {
			outcome, procErr := g.processObject(ctx, logger, object, actor, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case procErr != nil:
				logger.Warn("object generation failed", zap.String("object_id", object.ID), zap.Error(procErr))
				result.FailedObjects = append(result.FailedObjects, FailedObject{ObjectID: object.ID, Error: procErr.Error()})
			case outcome.skipped != "":
				result.SkippedObjects = append(result.SkippedObjects, SkippedObject{ObjectID: object.ID, Reason: outcome.skipped})
			default:
				result.CreatedCount += outcome.checklists
				result.CreatedTasks += outcome.tasks
				result.AdoptedTasks += outcome.adopted
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(result.SkippedObjects, func(i, j int) bool { return result.SkippedObjects[i].ObjectID < result.SkippedObjects[j].ObjectID })
	sort.Slice(result.FailedObjects, func(i, j int) bool { return result.FailedObjects[i].ObjectID < result.FailedObjects[j].ObjectID })
	return result, nil
}

func (g *ChecklistGenerator) processObject(ctx context.Context, logger *zap.Logger, object scheduler.Object, actor string, now time.Time) (objectOutcome, error) {
	today := g.calendar.Today(ctx, object.ID, object.Calendar, now)
	if !calendar.IsWorkingDay(today, object.Calendar.WorkingDays) {
		return objectOutcome{skipped: SkipNonWorkingDay}, nil
	}

	lease, acquired, err := g.locker.Acquire(ctx, "checklists:"+object.ID+":"+today.String(), g.lockTTL)
	if err != nil {
		return objectOutcome{}, err
	}
	if !acquired {
		return objectOutcome{skipped: SkipLocked}, nil
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Warn("failed to release generation lock", zap.String("object_id", object.ID), zap.Error(relErr))
		}
	}()

	existing, err := g.repos.Checklists.ListChecklists(ctx, persistence.ChecklistFilter{ObjectID: object.ID, Date: today})
	if err != nil {
		return objectOutcome{}, fmt.Errorf("list checklists: %w", err)
	}
	done := make(map[string]bool, len(existing))
	for _, checklist := range existing {
		done[checklist.RoomID] = true
	}

	cards, err := g.repos.TechCards.ListTechCards(ctx, persistence.TechCardFilter{ObjectIDs: []string{object.ID}, ActiveOnly: true})
	if err != nil {
		return objectOutcome{}, fmt.Errorf("list tech cards: %w", err)
	}
	ids := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.ID)
	}
	last, err := g.repos.Tasks.LastCompletions(ctx, ids)
	if err != nil {
		return objectOutcome{}, fmt.Errorf("load last completions: %w", err)
	}
	rooms, err := g.repos.Objects.ListRooms(ctx, object.ID)
	if err != nil {
		return objectOutcome{}, fmt.Errorf("list rooms: %w", err)
	}
	roomNames := make(map[string]string, len(rooms))
	for _, room := range rooms {
		roomNames[room.ID] = room.Name
	}

	byRoom := make(map[string][]scheduler.CardContext)
	for _, card := range cards {
		cc := scheduler.CardContext{Card: card, Object: object}
		if at, ok := last[card.ID]; ok {
			cc.LastExecution = &at
		}
		byRoom[card.RoomID] = append(byRoom[card.RoomID], cc)
	}
	roomIDs := make([]string, 0, len(byRoom))
	for roomID := range byRoom {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)

	var outcome objectOutcome
	for _, roomID := range roomIDs {
		if done[roomID] {
			continue
		}
		virtuals, err := g.generator.Generate(ctx, byRoom[roomID], today, today, now)
		if err != nil {
			return outcome, fmt.Errorf("generate room %q: %w", roomID, err)
		}
		if len(virtuals) == 0 {
			continue
		}

		roomName := roomNames[roomID]
		if roomName == "" {
			roomName = byRoom[roomID][0].Card.RoomName
		}
		checklist := scheduler.Checklist{
			ID:         g.idGenerator(),
			ObjectID:   object.ID,
			ObjectName: object.Name,
			RoomID:     roomID,
			RoomName:   roomName,
			Date:       today,
			CreatedAt:  now,
		}

		var created, adopted int
		err = g.repos.Tx.WithinTx(ctx, func(tx persistence.Tx) error {
			created, adopted = 0, 0
			if err := tx.Checklists().CreateChecklist(ctx, checklist); err != nil {
				return err
			}
			for _, v := range virtuals {
				task := taskFromVirtual(v, v.Status, now)
				task.ID = fmt.Sprintf("%s-%s-%d", checklist.ID, v.Key.TechCardID, v.Key.WindowIndex)
				task.ChecklistID = checklist.ID
				task.ScheduledDate = today
				inserted, err := tx.Tasks().CreateTaskIfAbsent(ctx, task)
				if err != nil {
					return fmt.Errorf("insert task %s: %w", task.ID, err)
				}
				if inserted {
					created++
					continue
				}
				ok, err := adoptOccurrence(ctx, tx, task)
				if err != nil {
					return err
				}
				if ok {
					adopted++
				}
			}
			if adopted == 0 {
				return nil
			}
			// adopted rows may all be finished already
			open, err := tx.Checklists().CountOpenTasks(ctx, checklist.ID)
			if err != nil {
				return fmt.Errorf("count open tasks of %s: %w", checklist.ID, err)
			}
			if open == 0 {
				return tx.Checklists().MarkCompleted(ctx, checklist.ID, now)
			}
			return nil
		})
		if errors.Is(err, persistence.ErrDuplicate) {
			// another run created this room's checklist first
			done[roomID] = true
			continue
		}
		if err != nil {
			return outcome, fmt.Errorf("create checklist for room %q: %w", roomID, err)
		}
		outcome.checklists++
		outcome.tasks += created
		outcome.adopted += adopted
	}

	if outcome.checklists == 0 {
		if len(done) > 0 {
			return objectOutcome{skipped: SkipAlreadyExists}, nil
		}
		return objectOutcome{skipped: SkipNothingToCreate}, nil
	}

	event := notify.Event{
		Type:       notify.EventChecklistsCreated,
		OccurredAt: now,
		ObjectID:   object.ID,
		Payload: map[string]any{
			"date":       today.String(),
			"checklists": outcome.checklists,
			"tasks":      outcome.tasks,
		},
	}
	if actor != "cron" {
		event.ActorID = actor
	}
	if err := g.notifier.Notify(ctx, event); err != nil {
		logger.Warn("notification failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
	return outcome, nil
}

// adoptOccurrence links the row already stored for task's card, date and
// window, usually a lazily materialized one, to task's checklist instead of
// storing the occurrence twice. A row that belongs to another checklist is
// left alone.
func adoptOccurrence(ctx context.Context, tx persistence.Tx, task scheduler.Task) (bool, error) {
	stored, err := tx.Tasks().FindOccurrenceTask(ctx, task.TechCardID, task.ScheduledDate, task.WindowIndex)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find stored occurrence for %s: %w", task.ID, err)
	}
	if stored.ChecklistID != "" {
		return false, nil
	}
	err = tx.Tasks().AttachToChecklist(ctx, stored.ID, task.ChecklistID)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attach task %s: %w", stored.ID, err)
	}
	return true, nil
}

// Status reports today's checklist coverage, where today is taken in the
// fallback zone.
func (g *ChecklistGenerator) Status(ctx context.Context) (GeneratorStatus, error) {
	if err := g.ready(); err != nil {
		return GeneratorStatus{}, err
	}
	today := calendar.DateOf(g.now(), g.calendar.Fallback())

	count, err := g.repos.Checklists.CountChecklists(ctx, today)
	if err != nil {
		return GeneratorStatus{}, fmt.Errorf("count checklists: %w", err)
	}
	objects, err := g.repos.Objects.ListObjects(ctx, persistence.ObjectFilter{})
	if err != nil {
		return GeneratorStatus{}, fmt.Errorf("list objects: %w", err)
	}
	auto := 0
	for _, object := range objects {
		if object.AutoChecklists {
			auto++
		}
	}
	rooms, err := g.repos.TechCards.CountRoomsWithTechCards(ctx)
	if err != nil {
		return GeneratorStatus{}, fmt.Errorf("count rooms: %w", err)
	}

	return GeneratorStatus{
		ChecklistsToday:         count,
		TotalObjects:            len(objects),
		AutoEnabledObjects:      auto,
		TotalRoomsWithTechCards: rooms,
		Date:                    today,
	}, nil
}
