package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

const (
	// CalendarLookbackDays and CalendarLookaheadDays bound the calendar window
	// around the base date.
	CalendarLookbackDays  = 30
	CalendarLookaheadDays = 7
)

// CalendarService builds the unified, role-scoped calendar of virtual and
// materialized tasks.
type CalendarService struct {
	repos     Repositories
	generator *scheduler.Generator
	calendar  *calendar.Adapter
	now       func() time.Time
	logger    *zap.Logger
}

// NewCalendarService wires dependencies for calendar reads.
func NewCalendarService(repos Repositories, generator *scheduler.Generator, adapter *calendar.Adapter, now func() time.Time, logger *zap.Logger) *CalendarService {
	if now == nil {
		now = time.Now
	}
	return &CalendarService{
		repos:     repos,
		generator: generator,
		calendar:  adapter,
		now:       now,
		logger:    defaultLogger(logger),
	}
}

// GetCalendar returns the grouped occurrences in [base-30d, base+7d] visible
// to the principal. Aggregates are only filled for global roles.
func (s *CalendarService) GetCalendar(ctx context.Context, params CalendarParams) (result CalendarResult, err error) {
	if s == nil || s.generator == nil || s.calendar == nil {
		return CalendarResult{}, fmt.Errorf("CalendarService is nil")
	}
	if err = s.repos.validate(); err != nil {
		return CalendarResult{}, err
	}

	principal := params.Principal
	logger := serviceLogger(ctx, s.logger, "CalendarService", "GetCalendar",
		zap.String("principal_id", principal.UserID),
		zap.String("role", string(principal.Role)),
		zap.String("object_id", params.ObjectID),
	)
	defer func() {
		if err != nil {
			logger.Warn("calendar read failed", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Debug("calendar read", zap.Int("total", result.Total), zap.Stringer("base_date", result.BaseDate))
	}()

	if !principal.Role.Valid() || principal.UserID == "" {
		return CalendarResult{}, ErrUnauthorized
	}

	now := s.now()
	base := params.BaseDate
	if base.IsZero() {
		base = calendar.DateOf(now, s.calendar.Fallback())
	}

	objects, err := s.scopeObjects(ctx, principal, params.ObjectID)
	if err != nil {
		return CalendarResult{}, err
	}

	from, to := base.AddDays(-CalendarLookbackDays), base.AddDays(CalendarLookaheadDays)
	objectIDs := make([]string, 0, len(objects))
	objectsByID := make(map[string]scheduler.Object, len(objects))
	for _, object := range objects {
		objectIDs = append(objectIDs, object.ID)
		objectsByID[object.ID] = object
	}

	var (
		cards []scheduler.TechCard
		last  map[string]time.Time
		tasks []scheduler.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cards, err = s.repos.TechCards.ListTechCards(gctx, persistence.TechCardFilter{ObjectIDs: objectIDs})
		if err != nil {
			return fmt.Errorf("list tech cards: %w", err)
		}
		ids := make([]string, 0, len(cards))
		for _, card := range cards {
			ids = append(ids, card.ID)
		}
		last, err = s.repos.Tasks.LastCompletions(gctx, ids)
		if err != nil {
			return fmt.Errorf("load last completions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// pad by a day on both sides so every zone offset is covered
		startFrom := calendar.Instant(from, 0, time.UTC).Add(-24 * time.Hour)
		startTo := calendar.Instant(to.AddDays(1), 0, time.UTC).Add(24 * time.Hour)
		var err error
		tasks, err = s.repos.Tasks.ListTasks(gctx, persistence.TaskFilter{ObjectIDs: objectIDs, StartFrom: &startFrom, StartTo: &startTo})
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		return nil
	})
	if err = g.Wait(); err != nil {
		return CalendarResult{}, err
	}

	cardsByID := make(map[string]scheduler.TechCard, len(cards))
	contexts := make(map[string][]scheduler.CardContext, len(objects))
	for _, card := range cards {
		cardsByID[card.ID] = card
		object, ok := objectsByID[card.ObjectID]
		if !ok {
			continue
		}
		cc := scheduler.CardContext{Card: card, Object: object}
		if at, ok := last[card.ID]; ok {
			cc.LastExecution = &at
		}
		contexts[card.ObjectID] = append(contexts[card.ObjectID], cc)
	}

	virtuals := make([]scheduler.Virtual, 0)
	for _, object := range objects {
		generated, genErr := s.generator.Generate(ctx, contexts[object.ID], from, to, now)
		if genErr != nil {
			logger.Warn("skipping object with failing generation",
				zap.String("object_id", object.ID),
				zap.Error(genErr),
				zap.String("kind", "data_quality"),
			)
			continue
		}
		virtuals = append(virtuals, generated...)
	}

	inWindow := make([]scheduler.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.ScheduledDate.Before(from) || task.ScheduledDate.After(to) {
			continue
		}
		task.Status = scheduler.RefreshStatus(task, now)
		inWindow = append(inWindow, task)
	}

	todays := make(map[string]calendar.Date, len(objects))
	for _, object := range objects {
		todays[object.ID] = s.calendar.Today(ctx, object.ID, object.Calendar, now)
	}
	fallbackToday := calendar.DateOf(now, s.calendar.Fallback())

	merged := scheduler.Merge(virtuals, inWindow, cardsByID)
	groups := scheduler.Group(merged, scheduler.GroupOptions{
		BaseDate: base,
		TodayFor: func(objectID string) calendar.Date {
			if today, ok := todays[objectID]; ok {
				return today
			}
			return fallbackToday
		},
	})

	result = CalendarResult{
		Groups:   groups,
		Total:    groups.Total(),
		Role:     principal.Role,
		BaseDate: base,
	}
	if principal.Role.SeesEverything() {
		result.ByManager, result.ByObject = scheduler.Aggregate(groups, objectsByID)
	}
	return result, nil
}

// scopeObjects returns the objects the principal may see, narrowed to
// objectID when set.
func (s *CalendarService) scopeObjects(ctx context.Context, principal Principal, objectID string) ([]scheduler.Object, error) {
	if objectID != "" {
		object, err := s.repos.Objects.GetObject(ctx, objectID)
		if errors.Is(err, persistence.ErrNotFound) {
			if principal.Role.SeesEverything() {
				return nil, fmt.Errorf("%w: object %s", ErrNotFound, objectID)
			}
			return nil, ErrUnauthorized
		}
		if err != nil {
			return nil, fmt.Errorf("load object %s: %w", objectID, err)
		}
		if !principal.canActOn(object) {
			return nil, ErrUnauthorized
		}
		return []scheduler.Object{object}, nil
	}

	filter := persistence.ObjectFilter{}
	if !principal.Role.SeesEverything() {
		filter.ManagerID = principal.UserID
	}
	objects, err := s.repos.Objects.ListObjects(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.SliceStable(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}
