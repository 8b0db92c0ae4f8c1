package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/repository"
	"deploytime/sync-agent/internal/service"
	"deploytime/sync-agent/internal/tracker"

	"go.uber.org/zap"
)

// Envelope is the body of every IPC response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Queued is set when the operation failed now but was saved for the
	// next sync.
	Queued bool `json:"queued,omitempty"`
}

func WriteData(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Data: data})
}

// WriteError maps err to a status code and writes a failure envelope.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeEnvelope(w, status, Envelope{Success: false, Error: err.Error(), Queued: service.IsQueued(err)})
}

// WriteBadRequest reports malformed input.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteFailure(w, http.StatusBadRequest, msg)
}

func WriteFailure(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, Envelope{Success: false, Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func statusFor(err error) int {
	var valErr *client.ValidationError
	switch {
	case service.IsQueued(err):
		return http.StatusAccepted
	case errors.Is(err, service.ErrNotAuthenticated), client.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTimerAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidTask),
		errors.Is(err, tracker.ErrInvalidDecision),
		errors.Is(err, tracker.ErrPromptMismatch):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, tracker.ErrNoPendingPrompt):
		return http.StatusNotFound
	case errors.As(err, &valErr):
		return valErr.StatusCode
	case client.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
