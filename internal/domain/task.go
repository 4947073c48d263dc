package domain

import "time"

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// OverdueGrace is how long past its end a task may stay open before it is overdue.
const OverdueGrace = 24 * time.Hour

// Task is the common read view over standalone tasks, series and instances.
type Task struct {
	ID          int64
	Title       string
	Status      TaskStatus
	StartAt     time.Time
	EndAt       time.Time
	IsRecurring bool      // series row
	IsInstance  bool      // materialized occurrence
	SeriesID    int64     // set for instances
	Frequency   Frequency // series frequency, also set for instances
}

func (t *Task) IsDone() bool {
	return t.Status == StatusCompleted
}

// Task returns the read view of the series.
func (s *Series) Task() *Task {
	return &Task{
		ID:          s.ID,
		Title:       s.Title,
		Status:      s.Status,
		StartAt:     s.StartAt,
		EndAt:       s.EndAt,
		IsRecurring: true,
		Frequency:   s.Rule.Frequency(),
	}
}

// Task returns the read view of the instance; freq is its series' frequency.
func (i *Instance) Task(freq Frequency) *Task {
	return &Task{
		ID:         i.ID,
		Title:      i.Title,
		Status:     i.Status,
		StartAt:    i.StartAt,
		EndAt:      i.EndAt,
		IsInstance: true,
		SeriesID:   i.SeriesID,
		Frequency:  freq,
	}
}

// IsOverdue reports whether t is overdue at now.
//
// Series are never overdue themselves, only their instances are. Standalone
// tasks and daily instances are overdue once their end is more than
// OverdueGrace in the past. Weekly and monthly instances are not flagged here.
func IsOverdue(t *Task, now time.Time) bool {
	if t == nil || t.IsDone() || t.EndAt.IsZero() {
		return false
	}
	switch {
	case t.IsInstance:
		if t.Frequency != FrequencyDaily {
			return false
		}
	case t.IsRecurring:
		return false
	}
	return t.EndAt.Before(now.Add(-OverdueGrace))
}
