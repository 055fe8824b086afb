package scheduler

import "time"

// DeriveStatus computes a virtual occurrence's status from its window and the
// supplied now. It is recomputed on every read.
func DeriveStatus(start, end, now time.Time) TaskStatus {
	switch {
	case now.After(end):
		return StatusOverdue
	case start.After(now):
		return StatusPending
	default:
		return StatusAvailable
	}
}

// RefreshStatus brings a stored task's time-driven status up to now. NEW,
// AVAILABLE and OVERDUE rows follow their window the way virtual occurrences
// do. In-progress and terminal rows keep what was stored.
func RefreshStatus(task Task, now time.Time) TaskStatus {
	switch task.Status {
	case StatusNew, StatusAvailable, StatusOverdue:
		return DeriveStatus(task.ScheduledStart, task.ScheduledEnd, now).Persistable()
	default:
		return task.Status
	}
}
