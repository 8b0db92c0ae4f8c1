package service

import (
	"context"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/repository"

	"go.uber.org/zap"
)

// StartTimer starts a timer on the backend and caches the confirmed entry.
// When the backend cannot be reached the start is queued and a *QueuedError
// is returned; no local entry is created until a replay confirms it.
func (s *SyncService) StartTimer(ctx context.Context, taskID int64, notes string) (*models.TimeEntry, error) {
	if taskID <= 0 {
		return nil, fmt.Errorf("invalid task id %d", taskID)
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	active, err := s.store.GetActiveTimeEntry(ctx, user.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: entry %d on task %d", ErrTimerAlreadyActive, active.ID, active.TaskID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to read active timer: %w", err)
	}

	m := models.StartTimer{TaskID: taskID, Notes: notes}
	try := s.newAttempt()
	entry, err := s.api.StartTimeEntry(ctx, m, try.requestID)
	if err != nil {
		return nil, s.priorityFailure(ctx, try, m, err)
	}

	if entry.UserID == 0 {
		entry.UserID = user.ID
	}
	if err := s.cacheEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("timer %d started but not cached: %w", entry.ID, err)
	}
	s.logger.Info("Timer started",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("task_id", entry.TaskID),
	)
	return entry, nil
}

// StopTimer stops a timer on the backend and caches the closed entry, queueing
// the stop when the backend cannot be reached.
func (s *SyncService) StopTimer(ctx context.Context, entryID int64, notes string) (*models.TimeEntry, error) {
	if entryID <= 0 {
		return nil, fmt.Errorf("invalid time entry id %d", entryID)
	}
	if _, err := s.currentUser(ctx); err != nil {
		return nil, err
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	m := models.StopTimer{EntryID: entryID, Notes: notes}
	try := s.newAttempt()
	entry, err := s.api.StopTimeEntry(ctx, m, try.requestID)
	if err != nil {
		return nil, s.priorityFailure(ctx, try, m, err)
	}

	if err := s.cacheEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("timer %d stopped but not cached: %w", entry.ID, err)
	}
	s.logger.Info("Timer stopped",
		zap.Int64("entry_id", entry.ID),
		zap.Duration("duration", entry.Duration(s.now())),
	)
	return entry, nil
}

// CompleteResult is what CompleteTimer did.
type CompleteResult struct {
	Entry *models.TimeEntry `json:"entry,omitempty"`
	Task  *models.Task      `json:"task,omitempty"`
}

// CompleteTimer stops the running entry on the task, if any, and marks the
// task completed. With entryID 0 the cached active entry is used when it
// belongs to the task.
func (s *SyncService) CompleteTimer(ctx context.Context, taskID, entryID int64, notes string) (*CompleteResult, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	if entryID == 0 {
		active, err := s.store.GetActiveTimeEntry(ctx, user.ID)
		switch {
		case err == nil && active.TaskID == taskID:
			entryID = active.ID
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("failed to read active timer: %w", err)
		}
	}

	result := &CompleteResult{}
	if entryID != 0 {
		entry, err := s.StopTimer(ctx, entryID, notes)
		if err != nil && !IsQueued(err) {
			return nil, err
		}
		result.Entry = entry
	}

	task, err := s.CompleteTask(ctx, taskID)
	if err != nil {
		return result, err
	}
	result.Task = task
	return result, nil
}

// ActiveTimer returns the cached running entry, nil when there is none.
func (s *SyncService) ActiveTimer(ctx context.Context) (*models.TimeEntry, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.GetActiveTimeEntry(ctx, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.Task == nil {
		if task, err := s.store.GetTask(ctx, entry.TaskID); err == nil {
			entry.Task = task
		}
	}
	entry.TaskTotalSeconds = s.taskTotalFor(entry)
	return entry, nil
}

// Entries returns the cached entries of the signed-in user between from and
// to (inclusive, either may be empty).
func (s *SyncService) Entries(ctx context.Context, from, to string) ([]models.TimeEntry, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetEntries(ctx, user.ID, from, to)
}

// priorityFailure queues retryable failures under the request id and time of
// the attempt. Authorization and validation failures are returned as is.
func (s *SyncService) priorityFailure(ctx context.Context, try attempt, m models.Mutation, err error) error {
	if !client.IsRetryable(err) {
		s.logger.Warn("Operation rejected",
			zap.String("entity_type", string(m.EntityType())),
			zap.String("action", string(m.Action())),
			zap.Error(err),
		)
		return err
	}

	item, qerr := s.outbox.EnqueueRequest(ctx, try.requestID, try.at, m)
	if qerr != nil {
		return errors.Join(err, qerr)
	}
	return &QueuedError{OutboxID: item.ID, Err: err}
}
