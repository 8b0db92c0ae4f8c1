package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrMissingParent = errors.New("referenced parent record is not cached")
)

// LocalStore is the offline cache of projects, tasks, time entries and
// host-local config. Every write is an upsert keyed by server id.
type LocalStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLocalStore(db *sql.DB, logger *zap.Logger) *LocalStore {
	return &LocalStore{
		db:     db,
		logger: logger,
	}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *LocalStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func exists(ctx context.Context, q querier, table string, id int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s %d: %w", table, id, err)
	}
	return true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func timeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return models.FormatTime(t)
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return models.FormatTime(*t)
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return models.ParseTime(ns.String)
}
