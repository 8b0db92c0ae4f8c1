package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

var ErrInvalidTask = errors.New("invalid task")

func (s *SyncService) CreateTask(ctx context.Context, m models.CreateTask) (*models.Task, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.ProjectID <= 0 || m.Name == "" {
		return nil, fmt.Errorf("%w: project and name are required", ErrInvalidTask)
	}
	if m.Status != "" && !m.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, m.Status)
	}
	if _, err := s.currentUser(ctx); err != nil {
		return nil, err
	}

	try := s.newAttempt()
	task, err := s.api.CreateTask(ctx, m, try.requestID)
	if err != nil {
		return nil, s.priorityFailure(ctx, try, m, err)
	}
	if err := s.cacheTask(ctx, task); err != nil {
		return nil, fmt.Errorf("task %d created but not cached: %w", task.ID, err)
	}
	s.logger.Info("Task created", zap.Int64("task_id", task.ID), zap.Int64("project_id", task.ProjectID))
	return task, nil
}

func (s *SyncService) UpdateTask(ctx context.Context, m models.UpdateTask) (*models.Task, error) {
	if m.TaskID <= 0 {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	if m.Status != nil && !m.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *m.Status)
	}
	if _, err := s.currentUser(ctx); err != nil {
		return nil, err
	}

	try := s.newAttempt()
	task, err := s.api.UpdateTask(ctx, m, try.requestID)
	if err != nil {
		return nil, s.priorityFailure(ctx, try, m, err)
	}
	if err := s.cacheTask(ctx, task); err != nil {
		return nil, fmt.Errorf("task %d updated but not cached: %w", task.ID, err)
	}
	return task, nil
}

// CompleteTask marks the task completed on the backend.
func (s *SyncService) CompleteTask(ctx context.Context, taskID int64) (*models.Task, error) {
	if taskID <= 0 {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	if _, err := s.currentUser(ctx); err != nil {
		return nil, err
	}

	m := models.CompleteTask{TaskID: taskID}
	try := s.newAttempt()
	task, err := s.api.UpdateTask(ctx, m.AsUpdate(), try.requestID)
	if err != nil {
		return nil, s.priorityFailure(ctx, try, m, err)
	}
	if err := s.cacheTask(ctx, task); err != nil {
		return nil, fmt.Errorf("task %d completed but not cached: %w", task.ID, err)
	}
	s.logger.Info("Task completed", zap.Int64("task_id", task.ID))
	return task, nil
}
