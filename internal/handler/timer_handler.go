package handler

import (
	"context"
	"net/http"

	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/service"

	"go.uber.org/zap"
)

// TimerService is the part of the sync service the timer endpoints use.
type TimerService interface {
	StartTimer(ctx context.Context, taskID int64, notes string) (*models.TimeEntry, error)
	StopTimer(ctx context.Context, entryID int64, notes string) (*models.TimeEntry, error)
	CompleteTimer(ctx context.Context, taskID, entryID int64, notes string) (*service.CompleteResult, error)
	ActiveTimer(ctx context.Context) (*models.TimeEntry, error)
	Entries(ctx context.Context, from, to string) ([]models.TimeEntry, error)
}

type TimerHandler struct {
	service TimerService
	logger  *zap.Logger
}

func NewTimerHandler(service TimerService, logger *zap.Logger) *TimerHandler {
	return &TimerHandler{
		service: service,
		logger:  logger,
	}
}

type startTimerRequest struct {
	TaskID int64  `json:"task_id"`
	Notes  string `json:"notes"`
}

type stopTimerRequest struct {
	EntryID int64  `json:"entry_id"`
	Notes   string `json:"notes"`
}

type completeTimerRequest struct {
	TaskID  int64  `json:"task_id"`
	EntryID int64  `json:"entry_id"`
	Notes   string `json:"notes"`
}

// Start handles timer.start
func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startTimerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TaskID <= 0 {
		WriteBadRequest(w, "task_id is required")
		return
	}

	entry, err := h.service.StartTimer(r.Context(), req.TaskID, req.Notes)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusCreated, entry)
}

// Stop handles timer.stop
func (h *TimerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopTimerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.EntryID <= 0 {
		WriteBadRequest(w, "entry_id is required")
		return
	}

	entry, err := h.service.StopTimer(r.Context(), req.EntryID, req.Notes)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, entry)
}

// Complete handles timer.complete
func (h *TimerHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeTimerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TaskID <= 0 {
		WriteBadRequest(w, "task_id is required")
		return
	}

	result, err := h.service.CompleteTimer(r.Context(), req.TaskID, req.EntryID, req.Notes)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, result)
}

// Active handles timer.getActive. Data is null when no timer runs.
func (h *TimerHandler) Active(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.ActiveTimer(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, entry)
}

// Entries lists cached entries, optionally bounded by ?from=&to=.
func (h *TimerHandler) Entries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.service.Entries(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []models.TimeEntry{}
	}
	WriteData(w, http.StatusOK, entries)
}
