package handler

import (
	"net/http"
	"time"

	"deploytime/sync-agent/internal/tracker"

	"go.uber.org/zap"
)

type ActivityTracker interface {
	RecordActivity()
	HandleHostEvent(ev tracker.HostEvent) error
	State() tracker.State
	LastActivity() time.Time
}

type Prompts interface {
	Pending() (tracker.PendingPrompt, bool)
	Respond(id string, d tracker.Decision) error
}

type ActivityHandler struct {
	tracker ActivityTracker
	prompts Prompts
	logger  *zap.Logger
}

func NewActivityHandler(tracker ActivityTracker, prompts Prompts, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{
		tracker: tracker,
		prompts: prompts,
		logger:  logger,
	}
}

type activityStatus struct {
	State        tracker.State `json:"state"`
	LastActivity time.Time     `json:"last_activity"`
}

type hostEventRequest struct {
	Event tracker.HostEvent `json:"event"`
}

type inactivityResponseRequest struct {
	ID       string           `json:"id"`
	Decision tracker.Decision `json:"decision"`
}

// Ping records operator activity seen by the UI.
func (h *ActivityHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.tracker.RecordActivity()
	h.writeStatus(w)
}

func (h *ActivityHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

func (h *ActivityHandler) HostEvent(w http.ResponseWriter, r *http.Request) {
	var req hostEventRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.tracker.HandleHostEvent(req.Event); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	h.logger.Info("Host event received", zap.String("event", string(req.Event)))
	h.writeStatus(w)
}

// Prompt returns the pending inactivity prompt; data is omitted when none
// is open.
func (h *ActivityHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	pending, ok := h.prompts.Pending()
	if !ok {
		WriteData(w, http.StatusOK, nil)
		return
	}
	WriteData(w, http.StatusOK, pending)
}

func (h *ActivityHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req inactivityResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.prompts.Respond(req.ID, req.Decision); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]tracker.Decision{"decision": req.Decision})
}

func (h *ActivityHandler) writeStatus(w http.ResponseWriter) {
	WriteData(w, http.StatusOK, activityStatus{
		State:        h.tracker.State(),
		LastActivity: h.tracker.LastActivity(),
	})
}
