package models

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

type Task struct {
	ID             int64      `json:"id"`
	ProjectID      int64      `json:"project_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	EstimatedHours *Hours     `json:"estimated_hours"`
	Status         TaskStatus `json:"status"`
	CreatedBy      int64      `json:"created_by"`
	Synced         bool       `json:"synced"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Project is set when the backend embeds the parent.
	Project *Project `json:"project,omitempty"`
}
