package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

const upsertProjectSQL = `
	INSERT INTO projects (id, name, description, created_by, synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		created_by = excluded.created_by,
		synced = 1,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
`

const selectProjectSQL = `
	SELECT id, name, description, created_by, synced, created_at, updated_at
	FROM projects
`

// SaveProjects upserts the pulled projects in a single transaction.
func (s *LocalStore) SaveProjects(ctx context.Context, projects []models.Project) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertProjectSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range projects {
			if err := execUpsertProject(ctx, stmt, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Projects saved", zap.Int("count", len(projects)))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
}

func execUpsertProject(ctx context.Context, stmt execer, p models.Project) error {
	_, err := stmt.ExecContext(ctx,
		p.ID,
		p.Name,
		p.Description,
		p.CreatedBy,
		timeArg(p.CreatedAt),
		timeArg(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save project %d: %w", p.ID, err)
	}
	return nil
}

func (s *LocalStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, selectProjectSQL+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return projects, nil
}

func (s *LocalStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, selectProjectSQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return p, err
}

func scanProject(row scanner) (*models.Project, error) {
	var (
		p                    models.Project
		description          sql.NullString
		createdBy            sql.NullInt64
		createdAt, updatedAt sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &description, &createdBy, &p.Synced, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Description = description.String
	p.CreatedBy = createdBy.Int64

	var err error
	if p.CreatedAt, err = parseNullTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
