package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/service"
	"deploytime/sync-agent/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTimers struct {
	startErr error
	active   *models.TimeEntry
	lastFrom string
}

func (f *fakeTimers) StartTimer(_ context.Context, taskID int64, notes string) (*models.TimeEntry, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.TimeEntry{ID: 1, TaskID: taskID, Notes: notes, StartTime: time.Now()}, nil
}

func (f *fakeTimers) StopTimer(_ context.Context, entryID int64, notes string) (*models.TimeEntry, error) {
	end := time.Now()
	return &models.TimeEntry{ID: entryID, Notes: notes, EndTime: &end}, nil
}

func (f *fakeTimers) CompleteTimer(_ context.Context, taskID, entryID int64, _ string) (*service.CompleteResult, error) {
	return &service.CompleteResult{Task: &models.Task{ID: taskID, Status: models.TaskCompleted}}, nil
}

func (f *fakeTimers) ActiveTimer(context.Context) (*models.TimeEntry, error) {
	return f.active, nil
}

func (f *fakeTimers) Entries(_ context.Context, from, _ string) ([]models.TimeEntry, error) {
	f.lastFrom = from
	return nil, nil
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestTimerHandler_Start(t *testing.T) {
	h := NewTimerHandler(&fakeTimers{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/timer/start", strings.NewReader(`{"task_id":42,"notes":"x"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env["success"])
	data := env["data"].(map[string]any)
	assert.Equal(t, float64(42), data["task_id"])
}

func TestTimerHandler_StartErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantQueued bool
	}{
		{"malformed", `{"task_id":`, nil, http.StatusBadRequest, false},
		{"missing task", `{"notes":"x"}`, nil, http.StatusBadRequest, false},
		{"already active", `{"task_id":1}`, service.ErrTimerAlreadyActive, http.StatusConflict, false},
		{"signed out", `{"task_id":1}`, service.ErrNotAuthenticated, http.StatusUnauthorized, false},
		{"queued", `{"task_id":1}`, &service.QueuedError{OutboxID: 4, Err: &client.NetworkError{Op: "POST /time-entries", Err: context.DeadlineExceeded}}, http.StatusAccepted, true},
		{"rejected", `{"task_id":1}`, &client.ValidationError{Message: "completed task", StatusCode: http.StatusBadRequest}, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTimerHandler(&fakeTimers{startErr: tt.err}, zap.NewNop())
			rec := httptest.NewRecorder()
			h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/timer/start", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, false, env["success"])
			assert.NotEmpty(t, env["error"])
			if tt.wantQueued {
				assert.Equal(t, true, env["queued"])
			} else {
				assert.Nil(t, env["queued"])
			}
		})
	}
}

func TestTimerHandler_ActiveNone(t *testing.T) {
	h := NewTimerHandler(&fakeTimers{}, zap.NewNop())
	rec := httptest.NewRecorder()
	h.Active(rec, httptest.NewRequest(http.MethodGet, "/api/v1/timer/active", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env["success"])
	assert.Nil(t, env["data"])
}

func TestTimerHandler_EntriesEmptyList(t *testing.T) {
	timers := &fakeTimers{}
	h := NewTimerHandler(timers, zap.NewNop())
	rec := httptest.NewRecorder()
	h.Entries(rec, httptest.NewRequest(http.MethodGet, "/api/v1/time-entries?from=2026-01-01", nil))

	assert.Equal(t, "2026-01-01", timers.lastFrom)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())
}

type fakeSyncer struct {
	calls  int
	ctxErr error
}

func (f *fakeSyncer) SyncAll(ctx context.Context) service.SyncResult {
	f.calls++
	f.ctxErr = ctx.Err()
	return service.SyncResult{Success: true, ProjectsSynced: 2, Errors: []string{}}
}

func (f *fakeSyncer) LastResult() *service.SyncResult { return nil }
func (f *fakeSyncer) InProgress() bool                { return false }

type fakeCounter int

func (c fakeCounter) Count(context.Context) (int, error) { return int(c), nil }

func TestSyncHandler(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewSyncHandler(syncer, fakeCounter(3), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	assert.Equal(t, 1, syncer.calls)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["projects_synced"])

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	data = decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(3), data["outbox_pending"])
	assert.Equal(t, false, data["in_progress"])
}

func TestSyncHandler_CycleOutlivesRequest(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewSyncHandler(syncer, fakeCounter(0), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil).WithContext(ctx)
	h.Sync(httptest.NewRecorder(), req)

	require.Equal(t, 1, syncer.calls)
	assert.NoError(t, syncer.ctxErr)
}

func TestActivityHandler_HostEventAndPrompt(t *testing.T) {
	broker := tracker.NewPromptBroker()
	opened := make(chan tracker.PendingPrompt, 1)
	broker.OnPrompt(func(p tracker.PendingPrompt) { opened <- p })
	detector := tracker.NewInactivityDetector(10*time.Minute, time.Hour, nil, broker, zap.NewNop())
	events := make(chan tracker.Event, 8)
	require.NoError(t, detector.Start(func(ev tracker.Event) { events <- ev }))
	defer detector.Stop()

	h := NewActivityHandler(detector, broker, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HostEvent(rec, httptest.NewRequest(http.MethodPost, "/api/v1/host-event", strings.NewReader(`{"event":"lock"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, "inactive", data["state"])

	p := <-opened
	rec = httptest.NewRecorder()
	h.Prompt(rec, httptest.NewRequest(http.MethodGet, "/api/v1/inactivity/prompt", nil))
	data = decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, p.ID, data["id"])

	rec = httptest.NewRecorder()
	h.Respond(rec, httptest.NewRequest(http.MethodPost, "/api/v1/inactivity/response", strings.NewReader(`{"id":"`+p.ID+`","decision":"stop"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Respond(rec, httptest.NewRequest(http.MethodPost, "/api/v1/inactivity/response", strings.NewReader(`{"decision":"stop"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.HostEvent(rec, httptest.NewRequest(http.MethodPost, "/api/v1/host-event", strings.NewReader(`{"event":"reboot"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
