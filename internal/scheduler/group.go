package scheduler

import (
	"sort"

	"github.com/example/cleaning-scheduler/internal/calendar"
)

// Groups is the calendar partition of merged occurrences.
type Groups struct {
	Overdue   []Occurrence
	Today     []Occurrence
	Upcoming  []Occurrence
	Completed []Occurrence
}

// Total returns the number of occurrences across all groups.
func (g Groups) Total() int {
	return len(g.Overdue) + len(g.Today) + len(g.Upcoming) + len(g.Completed)
}

// GroupOptions carries the reference days for grouping. BaseDate is the
// browsed day. TodayFor returns the real local today of an object, so overdue
// stays anchored to the actual clock when a future day is browsed.
type GroupOptions struct {
	BaseDate calendar.Date
	TodayFor func(objectID string) calendar.Date
}

type bucket int

const (
	bucketOverdue bucket = iota
	bucketToday
	bucketUpcoming
	bucketCompleted
)

func classify(o Occurrence, opts GroupOptions) bucket {
	status := o.Status()
	if status.IsTerminal() {
		return bucketCompleted
	}

	cutoff := opts.BaseDate
	if opts.TodayFor != nil {
		if today := opts.TodayFor(o.ObjectID()); !today.IsZero() && today.Before(cutoff) {
			cutoff = today
		}
	}

	date := o.Date()
	switch {
	case status == StatusOverdue || date.Before(cutoff):
		return bucketOverdue
	case date == opts.BaseDate:
		return bucketToday
	default:
		return bucketUpcoming
	}
}

// Group partitions occurrences into overdue, today, upcoming and completed.
// Every occurrence lands in exactly one group.
func Group(occurrences []Occurrence, opts GroupOptions) Groups {
	groups := Groups{
		Overdue:   make([]Occurrence, 0),
		Today:     make([]Occurrence, 0),
		Upcoming:  make([]Occurrence, 0),
		Completed: make([]Occurrence, 0),
	}
	for _, o := range occurrences {
		switch classify(o, opts) {
		case bucketCompleted:
			groups.Completed = append(groups.Completed, o)
		case bucketOverdue:
			groups.Overdue = append(groups.Overdue, o)
		case bucketToday:
			groups.Today = append(groups.Today, o)
		default:
			groups.Upcoming = append(groups.Upcoming, o)
		}
	}

	sortByStart(groups.Overdue)
	sortByStart(groups.Today)
	sortByStart(groups.Upcoming)
	sortByCompletion(groups.Completed)
	return groups
}

func sortByCompletion(occurrences []Occurrence) {
	sort.SliceStable(occurrences, func(i, j int) bool {
		ci, cj := occurrences[i].CompletedAt(), occurrences[j].CompletedAt()
		switch {
		case ci == nil && cj == nil:
		case ci == nil:
			return false
		case cj == nil:
			return true
		case !ci.Equal(*cj):
			return ci.After(*cj)
		}
		return occurrences[i].ID() < occurrences[j].ID()
	})
}

// Stats counts occurrences per group. Pending is the upcoming count.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
	Today     int `json:"today"`
	Pending   int `json:"pending"`
}

func (s *Stats) add(b bucket) {
	s.Total++
	switch b {
	case bucketCompleted:
		s.Completed++
	case bucketOverdue:
		s.Overdue++
	case bucketToday:
		s.Today++
	default:
		s.Pending++
	}
}

type PeriodicityCount struct {
	Frequency string `json:"frequency"`
	Count     int    `json:"count"`
}

type ObjectGroup struct {
	ObjectID   string `json:"objectId"`
	ObjectName string `json:"objectName"`
	Stats      Stats  `json:"stats"`
}

// ManagerGroup aggregates the objects of one manager. The unassigned bucket has
// an empty ManagerID.
type ManagerGroup struct {
	ManagerID     string             `json:"managerId"`
	ManagerName   string             `json:"managerName"`
	Objects       []ObjectGroup      `json:"objects"`
	Stats         Stats              `json:"stats"`
	ByPeriodicity []PeriodicityCount `json:"byPeriodicity"`
}

// Aggregate builds the per-manager and per-object summaries of groups.
// objects supplies names and manager assignments; occurrences of unknown
// objects fall into the unassigned manager bucket.
func Aggregate(groups Groups, objects map[string]Object) ([]ManagerGroup, []ObjectGroup) {
	objectStats := make(map[string]*ObjectGroup)
	managers := make(map[string]*ManagerGroup)
	periodicity := make(map[string]map[string]int)
	managerObjects := make(map[string]map[string]struct{})

	visit := func(list []Occurrence, b bucket) {
		for _, o := range list {
			objectID := o.ObjectID()
			og, ok := objectStats[objectID]
			if !ok {
				og = &ObjectGroup{ObjectID: objectID, ObjectName: o.ObjectName()}
				if obj, known := objects[objectID]; known && obj.Name != "" {
					og.ObjectName = obj.Name
				}
				objectStats[objectID] = og
			}
			og.Stats.add(b)

			var managerID, managerName string
			if obj, known := objects[objectID]; known && obj.Manager != nil {
				managerID, managerName = obj.Manager.ID, obj.Manager.Name
			}
			mg, ok := managers[managerID]
			if !ok {
				mg = &ManagerGroup{ManagerID: managerID, ManagerName: managerName}
				managers[managerID] = mg
				periodicity[managerID] = make(map[string]int)
				managerObjects[managerID] = make(map[string]struct{})
			}
			mg.Stats.add(b)
			periodicity[managerID][o.Frequency]++
			managerObjects[managerID][objectID] = struct{}{}
		}
	}
	visit(groups.Overdue, bucketOverdue)
	visit(groups.Today, bucketToday)
	visit(groups.Upcoming, bucketUpcoming)
	visit(groups.Completed, bucketCompleted)

	byObject := make([]ObjectGroup, 0, len(objectStats))
	for _, og := range objectStats {
		byObject = append(byObject, *og)
	}
	sortObjectGroups(byObject)

	byManager := make([]ManagerGroup, 0, len(managers))
	for id, mg := range managers {
		mg.Objects = make([]ObjectGroup, 0, len(managerObjects[id]))
		for objectID := range managerObjects[id] {
			mg.Objects = append(mg.Objects, *objectStats[objectID])
		}
		sortObjectGroups(mg.Objects)

		mg.ByPeriodicity = make([]PeriodicityCount, 0, len(periodicity[id]))
		for freq, count := range periodicity[id] {
			mg.ByPeriodicity = append(mg.ByPeriodicity, PeriodicityCount{Frequency: freq, Count: count})
		}
		sort.Slice(mg.ByPeriodicity, func(i, j int) bool {
			if mg.ByPeriodicity[i].Count != mg.ByPeriodicity[j].Count {
				return mg.ByPeriodicity[i].Count > mg.ByPeriodicity[j].Count
			}
			return mg.ByPeriodicity[i].Frequency < mg.ByPeriodicity[j].Frequency
		})
		byManager = append(byManager, *mg)
	}
	sort.Slice(byManager, func(i, j int) bool {
		a, b := byManager[i], byManager[j]
		if (a.ManagerID == "") != (b.ManagerID == "") {
			return b.ManagerID == ""
		}
		if a.ManagerName != b.ManagerName {
			return a.ManagerName < b.ManagerName
		}
		return a.ManagerID < b.ManagerID
	})

	return byManager, byObject
}

func sortObjectGroups(list []ObjectGroup) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].ObjectName != list[j].ObjectName {
			return list[i].ObjectName < list[j].ObjectName
		}
		return list[i].ObjectID < list[j].ObjectID
	})
}

