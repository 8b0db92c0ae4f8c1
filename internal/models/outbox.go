package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type EntityType string

const (
	EntityTimeEntry EntityType = "time_entry"
	EntityTask      EntityType = "task"
)

type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionComplete Action = "complete"
)

// Mutation is a change waiting in the outbox. The set of implementations is
// closed: StartTimer, StopTimer, CreateTask, UpdateTask and CompleteTask.
type Mutation interface {
	EntityType() EntityType
	Action() Action
	// TargetID is the server id of the entity, 0 while unknown.
	TargetID() int64
	mutation()
}

// StartTimer is also the POST /time-entries request body.
type StartTimer struct {
	TaskID int64  `json:"task_id"`
	Notes  string `json:"notes,omitempty"`
}

func (StartTimer) EntityType() EntityType { return EntityTimeEntry }
func (StartTimer) Action() Action         { return ActionStart }
func (StartTimer) TargetID() int64        { return 0 }
func (StartTimer) mutation()              {}

// StopTimer is also the PUT /time-entries/{id}/stop request body.
type StopTimer struct {
	EntryID int64  `json:"-"`
	Notes   string `json:"notes,omitempty"`
}

func (StopTimer) EntityType() EntityType { return EntityTimeEntry }
func (StopTimer) Action() Action         { return ActionStop }
func (m StopTimer) TargetID() int64      { return m.EntryID }
func (StopTimer) mutation()              {}

// CreateTask is also the POST /tasks request body.
type CreateTask struct {
	ProjectID      int64      `json:"project_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	EstimatedHours *Hours     `json:"estimated_hours,omitempty"`
	Status         TaskStatus `json:"status,omitempty"`
}

func (CreateTask) EntityType() EntityType { return EntityTask }
func (CreateTask) Action() Action         { return ActionCreate }
func (CreateTask) TargetID() int64        { return 0 }
func (CreateTask) mutation()              {}

// UpdateTask is also the PUT /tasks/{id} request body; nil fields are left
// unchanged on the server.
type UpdateTask struct {
	TaskID         int64       `json:"-"`
	Name           *string     `json:"name,omitempty"`
	Description    *string     `json:"description,omitempty"`
	EstimatedHours *Hours      `json:"estimated_hours,omitempty"`
	Status         *TaskStatus `json:"status,omitempty"`
}

func (UpdateTask) EntityType() EntityType { return EntityTask }
func (UpdateTask) Action() Action         { return ActionUpdate }
func (m UpdateTask) TargetID() int64      { return m.TaskID }
func (UpdateTask) mutation()              {}

// CompleteTask marks a task completed (PUT /tasks/{id} with status=completed).
type CompleteTask struct {
	TaskID int64 `json:"-"`
}

func (CompleteTask) EntityType() EntityType { return EntityTask }
func (CompleteTask) Action() Action         { return ActionComplete }
func (m CompleteTask) TargetID() int64      { return m.TaskID }
func (CompleteTask) mutation()              {}

// AsUpdate expresses the completion as a task update.
func (m CompleteTask) AsUpdate() UpdateTask {
	status := TaskCompleted
	return UpdateTask{TaskID: m.TaskID, Status: &status}
}

// DecodeMutation rebuilds a mutation from its persisted columns.
func DecodeMutation(entity EntityType, action Action, targetID int64, data []byte) (Mutation, error) {
	switch {
	case entity == EntityTimeEntry && action == ActionStart:
		var m StartTimer
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", entity, action, err)
		}
		return m, nil
	case entity == EntityTimeEntry && action == ActionStop:
		var m StopTimer
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", entity, action, err)
		}
		m.EntryID = targetID
		return m, nil
	case entity == EntityTask && action == ActionCreate:
		var m CreateTask
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", entity, action, err)
		}
		return m, nil
	case entity == EntityTask && action == ActionUpdate:
		var m UpdateTask
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", entity, action, err)
		}
		m.TaskID = targetID
		return m, nil
	case entity == EntityTask && action == ActionComplete:
		return CompleteTask{TaskID: targetID}, nil
	default:
		return nil, fmt.Errorf("unknown mutation %s/%s", entity, action)
	}
}

// OutboxItem is a persisted mutation. Items are never modified after
// insertion.
type OutboxItem struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	Mutation  Mutation  `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (i OutboxItem) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(i.Mutation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID         int64           `json:"id"`
		RequestID  string          `json:"request_id"`
		EntityType EntityType      `json:"entity_type"`
		EntityID   int64           `json:"entity_id"`
		Action     Action          `json:"action"`
		Data       json.RawMessage `json:"data"`
		CreatedAt  time.Time       `json:"created_at"`
	}{i.ID, i.RequestID, i.Mutation.EntityType(), i.Mutation.TargetID(), i.Mutation.Action(), data, i.CreatedAt})
}
