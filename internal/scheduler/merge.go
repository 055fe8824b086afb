package scheduler

import (
	"fmt"
	"sort"
)

// Merge overlays materialized tasks onto the virtual stream.
//
// A task supersedes the virtual occurrence with the same id. A task created by
// the checklist generator carries its own id, so it also supersedes the virtual
// occurrence for the same card, date and window. Tasks without a virtual
// counterpart are kept. Every id appears exactly once in the result.
func Merge(virtuals []Virtual, tasks []Task, cards map[string]TechCard) []Occurrence {
	byID := make(map[string]struct{}, len(tasks))
	byShadow := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = struct{}{}
		if task.TechCardID != "" {
			byShadow[shadowKey(task.TechCardID, task.ScheduledDate.String(), task.WindowIndex)] = struct{}{}
		}
	}

	out := make([]Occurrence, 0, len(virtuals)+len(tasks))
	seen := make(map[string]struct{}, len(virtuals)+len(tasks))

	for _, task := range tasks {
		if _, dup := seen[task.ID]; dup {
			continue
		}
		seen[task.ID] = struct{}{}
		out = append(out, MaterializedOccurrence(task, cards[task.TechCardID].Frequency))
	}

	for _, v := range virtuals {
		if _, ok := byID[v.ID]; ok {
			continue
		}
		if _, ok := byShadow[shadowKey(v.Key.TechCardID, v.Key.Date.String(), v.Key.WindowIndex)]; ok {
			continue
		}
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}
		out = append(out, VirtualOccurrence(v))
	}

	sortByStart(out)
	return out
}

func shadowKey(techCardID, date string, windowIndex int) string {
	return fmt.Sprintf("%s|%s|%d", techCardID, date, windowIndex)
}

func sortByStart(occurrences []Occurrence) {
	sort.SliceStable(occurrences, func(i, j int) bool {
		si, sj := occurrences[i].ScheduledStart(), occurrences[j].ScheduledStart()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return occurrences[i].ID() < occurrences[j].ID()
	})
}
