package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"deploytime/sync-agent/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outbox is the durable FIFO of mutations not yet confirmed by the backend.
// Rows are inserted and deleted, never updated.
type Outbox struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewOutbox creates an outbox over the sync_queue table
func NewOutbox(db *sql.DB, logger *zap.Logger) *Outbox {
	return &Outbox{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue persists a mutation under a fresh request id.
func (o *Outbox) Enqueue(ctx context.Context, m models.Mutation) (*models.OutboxItem, error) {
	return o.EnqueueRequest(ctx, uuid.NewString(), o.now(), m)
}

// EnqueueRequest persists a mutation that was already attempted under
// requestID at attemptedAt, so the replay carries the same idempotency key
// and is dated from the attempt rather than from the failure.
func (o *Outbox) EnqueueRequest(ctx context.Context, requestID string, attemptedAt time.Time, m models.Mutation) (*models.OutboxItem, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation: %w", err)
	}

	item := &models.OutboxItem{
		RequestID: requestID,
		Mutation:  m,
		CreatedAt: attemptedAt.UTC(),
	}

	res, err := o.db.ExecContext(ctx, `
		INSERT INTO sync_queue (request_id, entity_type, entity_id, action, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.RequestID, string(m.EntityType()), m.TargetID(), string(m.Action()), string(data), models.FormatTime(item.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read outbox id: %w", err)
	}

	o.logger.Info("Mutation queued for sync",
		zap.Int64("outbox_id", item.ID),
		zap.String("entity_type", string(m.EntityType())),
		zap.String("action", string(m.Action())),
		zap.Int64("entity_id", m.TargetID()),
	)
	return item, nil
}

// Drain returns every queued item in insertion order. Rows that cannot be
// decoded are reported through the error slice and left in place.
func (o *Outbox) Drain(ctx context.Context) ([]models.OutboxItem, []error, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, request_id, entity_type, entity_id, action, data, created_at
		FROM sync_queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var (
		items   []models.OutboxItem
		invalid []error
	)
	for rows.Next() {
		var (
			id                   int64
			requestID, createdAt string
			entity, action, data string
			entityID             int64
		)
		if err := rows.Scan(&id, &requestID, &entity, &entityID, &action, &data, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		m, err := models.DecodeMutation(models.EntityType(entity), models.Action(action), entityID, []byte(data))
		if err != nil {
			o.logger.Error("Undecodable outbox item", zap.Int64("outbox_id", id), zap.Error(err))
			invalid = append(invalid, fmt.Errorf("outbox item %d: %w", id, err))
			continue
		}
		created, err := models.ParseTime(createdAt)
		if err != nil {
			invalid = append(invalid, fmt.Errorf("outbox item %d: %w", id, err))
			continue
		}

		items = append(items, models.OutboxItem{
			ID:        id,
			RequestID: requestID,
			Mutation:  m,
			CreatedAt: created,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating outbox: %w", err)
	}

	return items, invalid, nil
}

// Remove deletes a replayed item.
func (o *Outbox) Remove(ctx context.Context, id int64) error {
	if _, err := o.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove outbox item %d: %w", id, err)
	}
	o.logger.Debug("Outbox item removed", zap.Int64("outbox_id", id))
	return nil
}

// Count returns the number of queued items.
func (o *Outbox) Count(ctx context.Context) (int, error) {
	var count int
	if err := o.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return count, nil
}
