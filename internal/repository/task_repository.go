package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

const upsertTaskSQL = `
	INSERT INTO tasks (id, project_id, name, description, estimated_hours, status, created_by, synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		project_id = excluded.project_id,
		name = excluded.name,
		description = excluded.description,
		estimated_hours = excluded.estimated_hours,
		status = excluded.status,
		created_by = excluded.created_by,
		synced = 1,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
`

const selectTaskSQL = `
	SELECT id, project_id, name, description, estimated_hours, status, created_by, synced, created_at, updated_at
	FROM tasks
`

// SaveTasks upserts tasks in a single transaction. Tasks whose project is
// not cached yet are skipped and their ids returned as deferred.
func (s *LocalStore) SaveTasks(ctx context.Context, tasks []models.Task) (deferred []int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		deferred, err = upsertTasks(ctx, tx, tasks)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logDeferred(deferred)
	return deferred, nil
}

// ReplaceProjectTasks makes the cached task list of a project match the
// pulled list. Cached tasks missing from the list are removed unless a time
// entry still references them.
func (s *LocalStore) ReplaceProjectTasks(ctx context.Context, projectID int64, tasks []models.Task) (deferred []int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "projects", projectID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("project %d: %w", projectID, ErrMissingParent)
		}

		if deferred, err = upsertTasks(ctx, tx, tasks); err != nil {
			return err
		}

		keep := make([]any, 0, len(tasks)+1)
		keep = append(keep, projectID)
		for _, t := range tasks {
			keep = append(keep, t.ID)
		}
		query := `DELETE FROM tasks
			WHERE project_id = ?
			AND NOT EXISTS (SELECT 1 FROM time_entries WHERE time_entries.task_id = tasks.id)`
		if len(tasks) > 0 {
			query += " AND id NOT IN (" + placeholders(len(tasks)) + ")"
		}
		if _, err := tx.ExecContext(ctx, query, keep...); err != nil {
			return fmt.Errorf("failed to prune tasks of project %d: %w", projectID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logDeferred(deferred)
	return deferred, nil
}

func upsertTasks(ctx context.Context, tx *sql.Tx, tasks []models.Task) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx, upsertTaskSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var deferred []int64
	for _, t := range tasks {
		ok, err := exists(ctx, tx, "projects", t.ProjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			deferred = append(deferred, t.ID)
			continue
		}
		if err := execUpsertTask(ctx, stmt, t); err != nil {
			return nil, err
		}
	}
	return deferred, nil
}

func execUpsertTask(ctx context.Context, stmt execer, t models.Task) error {
	var hours any
	if t.EstimatedHours != nil {
		hours = float64(*t.EstimatedHours)
	}
	status := t.Status
	if status == "" {
		status = models.TaskPending
	}

	_, err := stmt.ExecContext(ctx,
		t.ID,
		t.ProjectID,
		t.Name,
		t.Description,
		hours,
		string(status),
		t.CreatedBy,
		timeArg(t.CreatedAt),
		timeArg(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %d: %w", t.ID, err)
	}
	return nil
}

func (s *LocalStore) logDeferred(deferred []int64) {
	if len(deferred) > 0 {
		s.logger.Warn("Tasks deferred until their project is cached",
			zap.Int64s("task_ids", deferred),
		)
	}
}

func (s *LocalStore) ListProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+" WHERE project_id = ? ORDER BY name", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tasks, nil
}

func (s *LocalStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, selectTaskSQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t                    models.Task
		description          sql.NullString
		hours                sql.NullFloat64
		status               string
		createdBy            sql.NullInt64
		createdAt, updatedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &description, &hours, &status, &createdBy, &t.Synced, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Description = description.String
	t.Status = models.TaskStatus(status)
	t.CreatedBy = createdBy.Int64
	if hours.Valid {
		h := models.Hours(hours.Float64)
		t.EstimatedHours = &h
	}

	if t.CreatedAt, err = parseNullTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
