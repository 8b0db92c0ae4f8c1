package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/queue"
	"deploytime/sync-agent/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated   = errors.New("not signed in")
	ErrTimerAlreadyActive = errors.New("a timer is already running")
)

// QueuedError is returned by a priority operation whose remote call failed
// with a retryable error. The mutation is in the outbox and will be replayed
// by a later cycle.
type QueuedError struct {
	OutboxID int64
	Err      error
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("queued for sync (outbox item %d): %v", e.OutboxID, e.Err)
}

func (e *QueuedError) Unwrap() error { return e.Err }

// IsQueued reports whether err left a mutation in the outbox.
func IsQueued(err error) bool {
	var q *QueuedError
	return errors.As(err, &q)
}

// SyncResult summarises one reconciliation cycle.
type SyncResult struct {
	Success           bool      `json:"success"`
	Skipped           bool      `json:"skipped,omitempty"`
	ProjectsSynced    int       `json:"projects_synced"`
	TasksSynced       int       `json:"tasks_synced"`
	TimeEntriesSynced int       `json:"time_entries_synced"`
	OutboxReplayed    int       `json:"outbox_replayed"`
	OutboxDropped     int       `json:"outbox_dropped"`
	OutboxPending     int       `json:"outbox_pending"`
	Errors            []string  `json:"errors"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

func (r *SyncResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// SyncService merges the local cache with the backend: the periodic full
// cycle and the priority operations used directly by the UI.
type SyncService struct {
	store       *repository.LocalStore
	outbox      *queue.Outbox
	api         *client.APIClient
	historyDays int
	logger      *zap.Logger
	now         func() time.Time

	running atomic.Bool

	// timerMu serializes timer writes: priority start/stop, timer replays
	// and the open-entry fold of a cycle.
	timerMu sync.Mutex

	mu          sync.RWMutex
	last        *SyncResult
	activeTotal *taskTotal
}

// taskTotal is the server's tracked total for the task of the active entry,
// as of a pull.
type taskTotal struct {
	entryID  int64
	seconds  float64
	pulledAt time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	store *repository.LocalStore,
	outbox *queue.Outbox,
	api *client.APIClient,
	historyDays int,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		store:       store,
		outbox:      outbox,
		api:         api,
		historyDays: historyDays,
		logger:      logger,
		now:         time.Now,
	}
}

// InProgress reports whether a cycle is running.
func (s *SyncService) InProgress() bool {
	return s.running.Load()
}

// LastResult returns the result of the last completed cycle, nil before the
// first one.
func (s *SyncService) LastResult() *SyncResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// SyncAll runs one full cycle. It never returns an error: failures are
// collected in the result. A call made while another cycle is running
// returns at once with Skipped set.
func (s *SyncService) SyncAll(ctx context.Context) SyncResult {
	result := SyncResult{StartedAt: s.now().UTC(), Errors: []string{}}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("Sync already in progress, skipping")
		result.Skipped = true
		result.FinishedAt = result.StartedAt
		return result
	}
	defer s.running.Store(false)

	s.logger.Info("Sync cycle started")
	s.runCycle(ctx, &result)

	if count, err := s.outbox.Count(ctx); err != nil {
		result.addError("count outbox: %v", err)
	} else {
		result.OutboxPending = count
	}
	result.FinishedAt = s.now().UTC()
	result.Success = len(result.Errors) == 0

	s.mu.Lock()
	last := result
	s.last = &last
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("projects", result.ProjectsSynced),
		zap.Int("tasks", result.TasksSynced),
		zap.Int("time_entries", result.TimeEntriesSynced),
		zap.Int("replayed", result.OutboxReplayed),
		zap.Int("pending", result.OutboxPending),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	}
	if result.Success {
		s.logger.Info("Sync cycle finished", fields...)
	} else {
		s.logger.Warn("Sync cycle finished with errors", append(fields, zap.Strings("errors", result.Errors))...)
	}
	return result
}

func (s *SyncService) runCycle(ctx context.Context, result *SyncResult) {
	user, err := s.currentUser(ctx)
	if err != nil {
		result.addError("%v", err)
		return
	}

	if abort := s.pullProjects(ctx, result); abort {
		return
	}
	if abort := s.pullTasks(ctx, result); abort {
		return
	}
	active, abort := s.pullTimeEntries(ctx, user, result)
	if abort {
		return
	}
	s.drainOutbox(ctx, active, result)
}

// pullProjects replaces the cached projects with the server list. The return
// value is true when the cycle must stop.
func (s *SyncService) pullProjects(ctx context.Context, result *SyncResult) bool {
	projects, err := s.api.ListProjects(ctx)
	if err != nil {
		result.addError("pull projects: %v", err)
		return client.IsUnauthorized(err)
	}
	if err := s.store.SaveProjects(ctx, projects); err != nil {
		result.addError("cache projects: %v", err)
		return false
	}
	result.ProjectsSynced = len(projects)
	return false
}

// pullTasks refreshes tasks project by project. A failed project keeps its
// previous snapshot.
func (s *SyncService) pullTasks(ctx context.Context, result *SyncResult) bool {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		result.addError("list cached projects: %v", err)
		return false
	}

	for _, p := range projects {
		tasks, err := s.api.ListProjectTasks(ctx, p.ID)
		if err != nil {
			result.addError("pull tasks for project %d: %v", p.ID, err)
			if client.IsUnauthorized(err) {
				return true
			}
			continue
		}
		deferred, err := s.store.ReplaceProjectTasks(ctx, p.ID, tasks)
		if err != nil {
			result.addError("cache tasks for project %d: %v", p.ID, err)
			continue
		}
		result.TasksSynced += len(tasks) - len(deferred)
	}
	return false
}

// pullTimeEntries caches the authoritative active timer and recent history,
// then removes any other open entry so at most one remains for the user.
// Timer priority operations wait until the fold is done, so an entry they
// confirm is never folded away by an older snapshot.
func (s *SyncService) pullTimeEntries(ctx context.Context, user *models.User, result *SyncResult) (*models.TimeEntry, bool) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	active, err := s.api.GetActiveTimeEntry(ctx)
	if err != nil {
		result.addError("pull active timer: %v", err)
		return nil, client.IsUnauthorized(err)
	}

	from := ""
	if s.historyDays > 0 {
		from = s.now().UTC().AddDate(0, 0, -s.historyDays).Format("2006-01-02")
	}
	entries, err := s.api.ListMyTimeEntries(ctx, from, "")
	if err != nil {
		result.addError("pull time entries: %v", err)
		if client.IsUnauthorized(err) {
			return nil, true
		}
	} else {
		for i := range entries {
			entries[i].Synced = true
		}
		saved, deferred, err := s.store.SaveTimeEntries(ctx, entries)
		if err != nil {
			result.addError("cache time entries: %v", err)
		}
		if deferred > 0 {
			s.logger.Warn("Time entries deferred until their task is cached", zap.Int("count", deferred))
		}
		result.TimeEntriesSynced += saved
	}

	var keepID int64
	if active != nil {
		keepID = active.ID
		active.Synced = true
		s.rememberTaskTotal(active)
		if err := s.store.SaveTimeEntry(ctx, *active); err != nil {
			result.addError("cache active timer %d: %v", active.ID, err)
		}
	}
	removed, err := s.store.DeleteOpenEntriesExcept(ctx, user.ID, keepID)
	if err != nil {
		result.addError("reconcile open entries: %v", err)
	} else if removed > 0 {
		s.logger.Info("Removed stale open time entries", zap.Int64("count", removed))
	}
	return active, false
}

// drainOutbox replays queued mutations in order. A failing item stays queued
// and the next one is attempted; a 401 stops the drain.
func (s *SyncService) drainOutbox(ctx context.Context, active *models.TimeEntry, result *SyncResult) {
	items, invalid, err := s.outbox.Drain(ctx)
	if err != nil {
		result.addError("read outbox: %v", err)
		return
	}
	for _, err := range invalid {
		result.addError("%v", err)
	}

	for _, item := range items {
		logger := s.logger.With(
			zap.Int64("outbox_id", item.ID),
			zap.String("entity_type", string(item.Mutation.EntityType())),
			zap.String("action", string(item.Mutation.Action())),
		)

		err := s.replayItem(ctx, item, &active, result)
		switch {
		case err == nil:
			if err := s.outbox.Remove(ctx, item.ID); err != nil {
				result.addError("%v", err)
				continue
			}
			result.OutboxReplayed++
			logger.Info("Outbox item replayed")
		case client.IsUnauthorized(err):
			result.addError("replay outbox item %d: %v", item.ID, err)
			logger.Warn("Outbox replay aborted, credentials rejected")
			return
		case client.IsTerminal(err):
			result.addError("dropped outbox item %d (%s/%s): %v", item.ID, item.Mutation.EntityType(), item.Mutation.Action(), err)
			if err := s.outbox.Remove(ctx, item.ID); err != nil {
				result.addError("%v", err)
				continue
			}
			result.OutboxDropped++
			logger.Warn("Outbox item rejected by backend", zap.Error(err))
		default:
			result.addError("replay outbox item %d: %v", item.ID, err)
			logger.Warn("Outbox item kept for retry", zap.Error(err))
		}
	}
}

// replayItem replays item, holding the timer lock for time entry mutations.
func (s *SyncService) replayItem(ctx context.Context, item models.OutboxItem, active **models.TimeEntry, result *SyncResult) error {
	if item.Mutation.EntityType() == models.EntityTimeEntry {
		s.timerMu.Lock()
		defer s.timerMu.Unlock()
	}
	return s.replay(ctx, item, active, result)
}

// replay sends one queued mutation. Only the remote error is returned; once
// the backend has accepted the mutation, cache failures are recorded in the
// result and the item is still considered applied.
func (s *SyncService) replay(ctx context.Context, item models.OutboxItem, active **models.TimeEntry, result *SyncResult) error {
	switch m := item.Mutation.(type) {
	case models.StartTimer:
		if cur := *active; cur != nil && cur.TaskID == m.TaskID && !cur.StartTime.Before(item.CreatedAt) {
			s.logger.Info("Queued timer start already applied",
				zap.Int64("outbox_id", item.ID),
				zap.Int64("entry_id", cur.ID),
			)
			return nil
		}
		entry, err := s.api.StartTimeEntry(ctx, m, item.RequestID)
		if err != nil {
			// The backend refuses a second open entry and names the running
			// one; on the same task the queued start has already taken effect.
			running := client.ActiveEntryConflict(err)
			if running == nil || running.TaskID != m.TaskID {
				return err
			}
			s.logger.Info("Queued timer start already running on backend",
				zap.Int64("outbox_id", item.ID),
				zap.Int64("entry_id", running.ID),
			)
			entry = running
		}
		if err := s.cacheEntry(ctx, entry); err != nil {
			result.addError("cache replayed timer %d: %v", entry.ID, err)
		}
		result.TimeEntriesSynced++
		*active = entry

	case models.StopTimer:
		entry, err := s.api.StopTimeEntry(ctx, m, item.RequestID)
		if err != nil {
			return err
		}
		if err := s.cacheEntry(ctx, entry); err != nil {
			result.addError("cache replayed stop %d: %v", entry.ID, err)
		}
		result.TimeEntriesSynced++
		if cur := *active; cur != nil && cur.ID == entry.ID {
			*active = nil
		}

	case models.CreateTask:
		task, err := s.api.CreateTask(ctx, m, item.RequestID)
		if err != nil {
			return err
		}
		if err := s.cacheTask(ctx, task); err != nil {
			result.addError("cache replayed task %d: %v", task.ID, err)
		}
		result.TasksSynced++

	case models.UpdateTask:
		task, err := s.api.UpdateTask(ctx, m, item.RequestID)
		if err != nil {
			return err
		}
		if err := s.cacheTask(ctx, task); err != nil {
			result.addError("cache replayed task %d: %v", task.ID, err)
		}
		result.TasksSynced++

	case models.CompleteTask:
		task, err := s.api.UpdateTask(ctx, m.AsUpdate(), item.RequestID)
		if err != nil {
			return err
		}
		if err := s.cacheTask(ctx, task); err != nil {
			result.addError("cache replayed task %d: %v", task.ID, err)
		}
		result.TasksSynced++

	default:
		return fmt.Errorf("unsupported mutation %T", item.Mutation)
	}
	return nil
}

func (s *SyncService) cacheEntry(ctx context.Context, entry *models.TimeEntry) error {
	entry.Synced = true
	return s.store.SaveTimeEntry(ctx, *entry)
}

func (s *SyncService) cacheTask(ctx context.Context, task *models.Task) error {
	task.Synced = true
	deferred, err := s.store.SaveTasks(ctx, []models.Task{*task})
	if err != nil {
		return err
	}
	if len(deferred) > 0 {
		return fmt.Errorf("task %d: %w", task.ID, repository.ErrMissingParent)
	}
	return nil
}

// currentUser returns the signed-in user, making sure the client carries the
// stored token.
func (s *SyncService) currentUser(ctx context.Context) (*models.User, error) {
	token, user, err := s.store.Session(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if s.api.Token() != token {
		s.api.SetToken(token)
	}
	return user, nil
}

// attempt is one remote call of a priority operation. When the call has to be
// queued, the outbox item keeps its request id as idempotency key and its
// start time as creation time.
type attempt struct {
	requestID string
	at        time.Time
}

func (s *SyncService) newAttempt() attempt {
	return attempt{requestID: uuid.NewString(), at: s.now().UTC()}
}

func (s *SyncService) rememberTaskTotal(active *models.TimeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active.TaskTotalSeconds == nil {
		s.activeTotal = nil
		return
	}
	s.activeTotal = &taskTotal{entryID: active.ID, seconds: *active.TaskTotalSeconds, pulledAt: s.now()}
}

// taskTotalFor returns the server total of the entry's task advanced to now,
// nil when the last pull did not report one for this entry.
func (s *SyncService) taskTotalFor(entry *models.TimeEntry) *float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeTotal == nil || s.activeTotal.entryID != entry.ID {
		return nil
	}
	total := math.Floor(s.activeTotal.seconds + s.now().Sub(s.activeTotal.pulledAt).Seconds())
	return &total
}
