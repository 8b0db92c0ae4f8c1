package models

import "time"

type TimeEntry struct {
	ID        int64      `json:"id"`
	TaskID    int64      `json:"task_id"`
	UserID    int64      `json:"user_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Notes     string     `json:"notes"`
	Synced    bool       `json:"synced"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Task is set when the backend embeds the parent (with its project).
	Task *Task `json:"task,omitempty"`

	// TaskTotalSeconds is the time tracked on the task by every entry,
	// including this one. Only the active entry carries it; it is not cached.
	TaskTotalSeconds *float64 `json:"task_total_seconds,omitempty"`
}

// IsRunning reports whether the entry is the open timer.
func (e *TimeEntry) IsRunning() bool {
	return e.EndTime == nil
}

// Duration is the tracked time; running entries are measured up to now.
func (e *TimeEntry) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	if end.Before(e.StartTime) {
		return 0
	}
	return end.Sub(e.StartTime)
}

// ClampEnd moves an end time earlier than the start up to the start. It
// reports whether the entry changed.
func (e *TimeEntry) ClampEnd() bool {
	if e.EndTime == nil || !e.EndTime.Before(e.StartTime) {
		return false
	}
	start := e.StartTime
	e.EndTime = &start
	return true
}
