package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

const upsertTimeEntrySQL = `
	INSERT INTO time_entries (id, task_id, user_id, start_time, end_time, notes, synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		task_id = excluded.task_id,
		user_id = excluded.user_id,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		notes = excluded.notes,
		synced = excluded.synced,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
`

const selectTimeEntrySQL = `
	SELECT id, task_id, user_id, start_time, end_time, notes, synced, created_at, updated_at
	FROM time_entries
`

// SaveTimeEntry caches an entry together with any parents embedded in the
// server payload. It fails with ErrMissingParent when the task is unknown.
func (s *LocalStore) SaveTimeEntry(ctx context.Context, entry models.TimeEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveTimeEntry(ctx, tx, entry)
	})
}

// SaveTimeEntries caches a pulled list in one transaction. Entries whose task
// is not cached are counted as deferred.
func (s *LocalStore) SaveTimeEntries(ctx context.Context, entries []models.TimeEntry) (saved, deferred int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			err := saveTimeEntry(ctx, tx, e)
			if errors.Is(err, ErrMissingParent) {
				deferred++
				continue
			}
			if err != nil {
				return err
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return saved, deferred, nil
}

func saveTimeEntry(ctx context.Context, tx *sql.Tx, entry models.TimeEntry) error {
	if entry.ID == 0 {
		return fmt.Errorf("time entry has no server id")
	}

	if t := entry.Task; t != nil {
		if t.Project != nil {
			if err := execUpsertProject(ctx, txStmt{tx, upsertProjectSQL}, *t.Project); err != nil {
				return err
			}
		}
		ok, err := exists(ctx, tx, "projects", t.ProjectID)
		if err != nil {
			return err
		}
		if ok {
			if err := execUpsertTask(ctx, txStmt{tx, upsertTaskSQL}, *t); err != nil {
				return err
			}
		}
	}

	ok, err := exists(ctx, tx, "tasks", entry.TaskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("time entry %d references task %d: %w", entry.ID, entry.TaskID, ErrMissingParent)
	}

	entry.ClampEnd()
	_, err = tx.ExecContext(ctx, upsertTimeEntrySQL,
		entry.ID,
		entry.TaskID,
		entry.UserID,
		models.FormatTime(entry.StartTime),
		timePtrArg(entry.EndTime),
		entry.Notes,
		entry.Synced,
		timeArg(entry.CreatedAt),
		timeArg(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save time entry %d: %w", entry.ID, err)
	}
	return nil
}

// txStmt adapts a transaction to the execer used by the prepared-statement
// helpers.
type txStmt struct {
	tx    *sql.Tx
	query string
}

func (s txStmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, s.query, args...)
}

// HealNegativeDurations clamps persisted end times that precede their start.
func (s *LocalStore) HealNegativeDurations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE time_entries
		SET end_time = start_time
		WHERE end_time IS NOT NULL AND end_time < start_time
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to heal time entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetActiveTimeEntry returns the open entry of the user or ErrNotFound. The
// corrective clamp runs first; its failure does not affect the read.
func (s *LocalStore) GetActiveTimeEntry(ctx context.Context, userID int64) (*models.TimeEntry, error) {
	if n, err := s.HealNegativeDurations(ctx); err != nil {
		s.logger.Warn("Failed to persist time entry correction", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("Corrected time entries with negative duration", zap.Int64("count", n))
	}

	row := s.db.QueryRowContext(ctx, selectTimeEntrySQL+`
		WHERE user_id = ? AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1
	`, userID)
	entry, err := scanTimeEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active time entry for user %d: %w", userID, ErrNotFound)
	}
	return entry, err
}

func (s *LocalStore) GetTimeEntry(ctx context.Context, id int64) (*models.TimeEntry, error) {
	entry, err := scanTimeEntry(s.db.QueryRowContext(ctx, selectTimeEntrySQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("time entry %d: %w", id, ErrNotFound)
	}
	return entry, err
}

// GetEntries lists the user's entries, newest first. from and to are
// inclusive bounds compared against the stored start time as strings.
func (s *LocalStore) GetEntries(ctx context.Context, userID int64, from, to string) ([]models.TimeEntry, error) {
	query := selectTimeEntrySQL + " WHERE user_id = ?"
	args := []any{userID}

	if from != "" {
		query += " AND start_time >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND start_time <= ?"
		args = append(args, to)
	}
	query += " ORDER BY start_time DESC"

	return s.queryTimeEntries(ctx, query, args...)
}

// ListOpenEntries returns every open entry of the user.
func (s *LocalStore) ListOpenEntries(ctx context.Context, userID int64) ([]models.TimeEntry, error) {
	return s.queryTimeEntries(ctx, selectTimeEntrySQL+`
		WHERE user_id = ? AND end_time IS NULL
		ORDER BY start_time DESC
	`, userID)
}

// DeleteOpenEntriesExcept removes the user's open entries other than keepID.
// A keepID of 0 removes all of them.
func (s *LocalStore) DeleteOpenEntriesExcept(ctx context.Context, userID, keepID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM time_entries
		WHERE user_id = ? AND end_time IS NULL AND id != ?
	`, userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale open entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *LocalStore) DeleteTimeEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM time_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete time entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("time entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *LocalStore) queryTimeEntries(ctx context.Context, query string, args ...any) ([]models.TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}
	defer rows.Close()

	var entries []models.TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}

func scanTimeEntry(row scanner) (*models.TimeEntry, error) {
	var (
		e                    models.TimeEntry
		start                string
		end, notes           sql.NullString
		createdAt, updatedAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.TaskID, &e.UserID, &start, &end, &notes, &e.Synced, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan time entry: %w", err)
	}
	e.Notes = notes.String

	if e.StartTime, err = models.ParseTime(start); err != nil {
		return nil, err
	}
	if end.Valid {
		t, err := models.ParseTime(end.String)
		if err != nil {
			return nil, err
		}
		e.EndTime = &t
	}
	if e.CreatedAt, err = parseNullTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, err
	}

	// The read is always consistent even when the persisted correction
	// could not be written.
	e.ClampEnd()
	return &e, nil
}
