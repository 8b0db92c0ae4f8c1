package handler

import (
	"context"
	"net/http"

	"deploytime/sync-agent/internal/service"

	"go.uber.org/zap"
)

type Syncer interface {
	SyncAll(ctx context.Context) service.SyncResult
	LastResult() *service.SyncResult
	InProgress() bool
}

type OutboxCounter interface {
	Count(ctx context.Context) (int, error)
}

type SyncHandler struct {
	syncer Syncer
	outbox OutboxCounter
	logger *zap.Logger
}

func NewSyncHandler(syncer Syncer, outbox OutboxCounter, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncer: syncer,
		outbox: outbox,
		logger: logger,
	}
}

type syncStatus struct {
	InProgress    bool                `json:"in_progress"`
	OutboxPending int                 `json:"outbox_pending"`
	Last          *service.SyncResult `json:"last,omitempty"`
}

// Sync runs a cycle now. The envelope is successful whenever the cycle ran;
// per-step failures are in data.errors. A caller that goes away does not
// cut the cycle short.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result := h.syncer.SyncAll(context.WithoutCancel(r.Context()))
	WriteData(w, http.StatusOK, result)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.outbox.Count(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, syncStatus{
		InProgress:    h.syncer.InProgress(),
		OutboxPending: pending,
		Last:          h.syncer.LastResult(),
	})
}
