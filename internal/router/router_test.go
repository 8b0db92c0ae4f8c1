package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"deploytime/sync-agent/internal/handler"
	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type panickyTimers struct{}

func (panickyTimers) StartTimer(context.Context, int64, string) (*models.TimeEntry, error) {
	panic("boom")
}
func (panickyTimers) StopTimer(context.Context, int64, string) (*models.TimeEntry, error) {
	return nil, nil
}
func (panickyTimers) CompleteTimer(context.Context, int64, int64, string) (*service.CompleteResult, error) {
	return nil, nil
}
func (panickyTimers) ActiveTimer(context.Context) (*models.TimeEntry, error) { return nil, nil }
func (panickyTimers) Entries(context.Context, string, string) ([]models.TimeEntry, error) {
	return nil, nil
}

type idleSyncer struct{}

func (idleSyncer) SyncAll(context.Context) service.SyncResult { return service.SyncResult{Success: true} }
func (idleSyncer) LastResult() *service.SyncResult            { return nil }
func (idleSyncer) InProgress() bool                           { return false }

type zeroCounter struct{}

func (zeroCounter) Count(context.Context) (int, error) { return 0, nil }

func newTestRouter() http.Handler {
	logger := zap.NewNop()
	return New(Handlers{
		Timer: handler.NewTimerHandler(panickyTimers{}, logger),
		Sync:  handler.NewSyncHandler(idleSyncer{}, zeroCounter{}, logger),
	}, logger)
}

func TestRouter_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var env handler.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
}

func TestRouter_PanicBecomesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/timer/start", strings.NewReader(`{"task_id":1}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"internal error"}`, rec.Body.String())
}

func TestRouter_UnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RejectsForeignOrigin(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
