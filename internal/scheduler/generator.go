// Package scheduler derives virtual cleaning occurrences from tech cards and
// reconciles them with materialized task rows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/recurrence"
)

var (
	// ErrInvalidRange indicates a reversed or unbounded date range.
	ErrInvalidRange = recurrence.ErrInvalidWindow
	// ErrRangeTooWide indicates the requested range exceeds the generator bound.
	ErrRangeTooWide = recurrence.ErrRangeTooWide
	// ErrNotScheduled indicates a key does not correspond to a generated occurrence.
	ErrNotScheduled = errors.New("scheduler: occurrence is not scheduled")
)

// CardContext bundles a tech card with its object configuration and the last
// time it was completed, if ever.
type CardContext struct {
	Card          TechCard
	Object        Object
	LastExecution *time.Time
}

// Generator produces virtual occurrences without touching storage.
type Generator struct {
	engine   *recurrence.Engine
	calendar *calendar.Adapter
}

// NewGenerator wires the recurrence engine and calendar adapter.
func NewGenerator(engine *recurrence.Engine, adapter *calendar.Adapter) *Generator {
	if engine == nil {
		engine = recurrence.NewEngine(0)
	}
	return &Generator{engine: engine, calendar: adapter}
}

// Engine exposes the underlying recurrence engine.
func (g *Generator) Engine() *recurrence.Engine {
	return g.engine
}

// Rule resolves the recurrence rule of a card under its object's working hours.
func (g *Generator) Rule(cc CardContext) recurrence.Rule {
	return recurrence.Resolve(cc.Card.Spec(), cc.Object.Calendar.WorkingHours)
}

// Generate returns every virtual occurrence of the active cards for the local
// dates in [from, to]. The output is sorted by scheduled start then id, and is
// identical across calls with the same inputs and now.
func (g *Generator) Generate(ctx context.Context, cards []CardContext, from, to calendar.Date, now time.Time) ([]Virtual, error) {
	if g == nil || g.calendar == nil {
		return nil, fmt.Errorf("Generator is nil")
	}
	if err := g.engine.ValidateRange(from, to); err != nil {
		return nil, err
	}

	out := make([]Virtual, 0)
	for _, cc := range cards {
		if !cc.Card.Active {
			continue
		}
		loc := g.calendar.Location(ctx, cc.Object.ID, cc.Object.Calendar.TimeZone)
		rule := g.Rule(cc)
		dates, err := g.engine.Dates(rule, from, to, g.anchor(cc, loc), cc.Object.Calendar.WorkingDays)
		if err != nil {
			return nil, fmt.Errorf("expand tech card %s: %w", cc.Card.ID, err)
		}
		for _, date := range dates {
			for _, window := range rule.Windows {
				out = append(out, g.build(cc, rule, window, date, loc, now))
			}
		}
	}

	sortVirtuals(out)
	return out, nil
}

// OccurrencesOn returns the occurrences of a single card on date.
func (g *Generator) OccurrencesOn(ctx context.Context, cc CardContext, date calendar.Date, now time.Time) ([]Virtual, error) {
	return g.Generate(ctx, []CardContext{cc}, date, date, now)
}

// Project recomputes the occurrence identified by key. It fails with
// ErrNotScheduled when the card is inactive, the date does not fire, or the
// window suffix does not match the card's windows.
func (g *Generator) Project(ctx context.Context, cc CardContext, key Key, now time.Time) (Virtual, error) {
	if g == nil || g.calendar == nil {
		return Virtual{}, fmt.Errorf("Generator is nil")
	}
	if key.TechCardID != cc.Card.ID || !cc.Card.Active {
		return Virtual{}, ErrNotScheduled
	}

	loc := g.calendar.Location(ctx, cc.Object.ID, cc.Object.Calendar.TimeZone)
	rule := g.Rule(cc)
	if rule.MultiWindow() != key.HasWindow {
		return Virtual{}, ErrNotScheduled
	}
	if key.WindowIndex < 0 || key.WindowIndex >= len(rule.Windows) {
		return Virtual{}, ErrNotScheduled
	}

	ok, err := g.engine.Qualifies(rule, key.Date, g.anchor(cc, loc), cc.Object.Calendar.WorkingDays)
	if err != nil {
		return Virtual{}, err
	}
	if !ok {
		return Virtual{}, ErrNotScheduled
	}
	return g.build(cc, rule, rule.Windows[key.WindowIndex], key.Date, loc, now), nil
}

func (g *Generator) anchor(cc CardContext, loc *time.Location) recurrence.Anchor {
	var anchor recurrence.Anchor
	if !cc.Card.CreatedAt.IsZero() {
		anchor.Created = calendar.DateOf(cc.Card.CreatedAt, loc)
	}
	if cc.LastExecution != nil && !cc.LastExecution.IsZero() {
		last := calendar.DateOf(*cc.LastExecution, loc)
		anchor.LastExecution = &last
	}
	return anchor
}

func (g *Generator) build(cc CardContext, rule recurrence.Rule, window recurrence.Window, date calendar.Date, loc *time.Location, now time.Time) Virtual {
	key := NewKey(cc.Card.ID, date, window.Index, rule.MultiWindow())
	start := calendar.Instant(date, window.Start, loc)
	end := calendar.Instant(date, window.End, loc)

	description := cc.Card.Name
	if rule.MultiWindow() {
		description = fmt.Sprintf("%s: %s", window.Name, cc.Card.Name)
	}

	return Virtual{
		Key:            key,
		ID:             key.ID(),
		Description:    description,
		WindowName:     window.Name,
		ObjectID:       cc.Object.ID,
		ObjectName:     cc.Object.Name,
		RoomID:         cc.Card.RoomID,
		RoomName:       cc.Card.RoomName,
		Manager:        cloneManager(cc.Object.Manager),
		Frequency:      cc.Card.Frequency,
		FrequencyDays:  rule.ApproxDays(),
		WorkType:       cc.Card.WorkType,
		ScheduledStart: start,
		ScheduledEnd:   end,
		Status:         DeriveStatus(start, end, now),
	}
}

func sortVirtuals(virtuals []Virtual) {
	sort.SliceStable(virtuals, func(i, j int) bool {
		if !virtuals[i].ScheduledStart.Equal(virtuals[j].ScheduledStart) {
			return virtuals[i].ScheduledStart.Before(virtuals[j].ScheduledStart)
		}
		return virtuals[i].ID < virtuals[j].ID
	})
}

func cloneManager(m *Manager) *Manager {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}
