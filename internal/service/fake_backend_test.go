package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/database"
	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/queue"
	"deploytime/sync-agent/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testToken  = "tok-valid"
	testUserID = int64(7)
)

// fakeBackend is an in-memory stand-in for the REST service.
type fakeBackend struct {
	mu sync.Mutex

	down          bool
	token         string
	failTaskNames map[string]int
	// failProjects answers the task list of a project with the given status.
	failProjects map[int64]int
	// dropReplies applies the request, then hangs up before replying.
	dropReplies map[string]bool
	// onCall runs before each request is handled, outside the lock.
	onCall func(pattern string)
	// taskTotal is reported as task_total_seconds on the active entry.
	taskTotal *float64

	projects   []models.Project
	tasks      map[int64]*models.Task
	entries    []*models.TimeEntry
	nextID     int64
	calls      map[string]int
	idemKeys   []string
	activeWrap bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		token:         testToken,
		failTaskNames: map[string]int{},
		failProjects:  map[int64]int{},
		dropReplies:   map[string]bool{},
		tasks:         map[int64]*models.Task{},
		nextID:        1000,
		calls:         map[string]int{},
	}
}

func (b *fakeBackend) addProject(id int64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects = append(b.projects, models.Project{ID: id, Name: name, CreatedBy: testUserID})
}

func (b *fakeBackend) addTask(id, projectID int64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[id] = &models.Task{ID: id, ProjectID: projectID, Name: name, Status: models.TaskPending, CreatedBy: testUserID}
}

// startEntry opens an entry directly on the server, as another device would.
func (b *fakeBackend) startEntry(id, taskID int64, start time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, &models.TimeEntry{ID: id, TaskID: taskID, UserID: testUserID, StartTime: start.UTC()})
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBackend) callCount(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *fakeBackend) activeLocked() *models.TimeEntry {
	for _, e := range b.entries {
		if e.EndTime == nil {
			return e
		}
	}
	return nil
}

// withTask returns a copy of e with its task and project embedded.
func (b *fakeBackend) withTask(e *models.TimeEntry) models.TimeEntry {
	out := *e
	if t, ok := b.tasks[e.TaskID]; ok {
		task := *t
		for _, p := range b.projects {
			if p.ID == task.ProjectID {
				project := p
				task.Project = &project
			}
		}
		out.Task = &task
	}
	return out
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			hook := b.onCall
			b.mu.Unlock()
			if hook != nil {
				hook(pattern)
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			b.calls[pattern]++
			if b.down {
				hangUp(w)
				return
			}
			if pattern != "POST /api/auth/login" && r.Header.Get("Authorization") != "Bearer "+b.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthenticated."})
				return
			}
			if key := r.Header.Get("Idempotency-Key"); key != "" {
				b.idemKeys = append(b.idemKeys, key)
			}
			if b.dropReplies[pattern] {
				h(httptest.NewRecorder(), r)
				hangUp(w)
				return
			}
			h(w, r)
		})
	}

	route("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.LoginResponse{
			AccessToken: b.token,
			TokenType:   "bearer",
			ExpiresIn:   3600,
			User:        models.User{ID: testUserID, Name: "Ana", Email: "ana@example.com", Role: "collaborator"},
		})
	})
	route("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	route("GET /api/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.projects)
	})
	route("GET /api/projects/{id}/tasks", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if status, ok := b.failProjects[id]; ok {
			writeJSON(w, status, map[string]string{"error": "forced failure"})
			return
		}
		tasks := []models.Task{}
		for _, t := range b.tasks {
			if t.ProjectID == id {
				tasks = append(tasks, *t)
			}
		}
		writeJSON(w, http.StatusOK, tasks)
	})
	route("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateTask
		_ = json.NewDecoder(r.Body).Decode(&req)
		if status, ok := b.failTaskNames[req.Name]; ok {
			writeJSON(w, status, map[string]string{"error": "forced failure"})
			return
		}
		b.nextID++
		status := req.Status
		if status == "" {
			status = models.TaskPending
		}
		t := &models.Task{ID: b.nextID, ProjectID: req.ProjectID, Name: req.Name, Description: req.Description, Status: status, CreatedBy: testUserID}
		b.tasks[t.ID] = t
		writeJSON(w, http.StatusCreated, t)
	})
	route("PUT /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		t, ok := b.tasks[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Tarea no encontrada"})
			return
		}
		var req models.UpdateTask
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != nil {
			t.Name = *req.Name
		}
		if req.Status != nil {
			t.Status = *req.Status
		}
		writeJSON(w, http.StatusOK, t)
	})
	route("POST /api/time-entries", func(w http.ResponseWriter, r *http.Request) {
		var req models.StartTimer
		_ = json.NewDecoder(r.Body).Decode(&req)
		if active := b.activeLocked(); active != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":        "Ya tienes una entrada de tiempo activa. Debes detenerla primero.",
				"active_entry": active,
			})
			return
		}
		t, ok := b.tasks[req.TaskID]
		if !ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string][]string{"task_id": {"invalid"}})
			return
		}
		if t.Status == models.TaskPending {
			t.Status = models.TaskInProgress
		}
		b.nextID++
		e := &models.TimeEntry{ID: b.nextID, TaskID: req.TaskID, UserID: testUserID, StartTime: time.Now().UTC(), Notes: req.Notes}
		b.entries = append(b.entries, e)
		writeJSON(w, http.StatusCreated, b.withTask(e))
	})
	route("PUT /api/time-entries/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		var req models.StopTimer
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, e := range b.entries {
			if e.ID != id {
				continue
			}
			if e.EndTime != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Esta entrada de tiempo ya fue detenida"})
				return
			}
			end := time.Now().UTC()
			e.EndTime = &end
			if req.Notes != "" {
				e.Notes = req.Notes
			}
			writeJSON(w, http.StatusOK, b.withTask(e))
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Registro de tiempo no encontrado"})
	})
	route("GET /api/my/active-time-entry", func(w http.ResponseWriter, r *http.Request) {
		active := b.activeLocked()
		if active == nil {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		out := b.withTask(active)
		out.TaskTotalSeconds = b.taskTotal
		if b.activeWrap {
			writeJSON(w, http.StatusOK, map[string]any{"active_entry": out})
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
	route("GET /api/my/time-entries", func(w http.ResponseWriter, r *http.Request) {
		out := []models.TimeEntry{}
		for i := len(b.entries) - 1; i >= 0; i-- {
			out = append(out, b.withTask(b.entries[i]))
		}
		writeJSON(w, http.StatusOK, out)
	})

	return mux
}

// hangUp closes the connection without a response.
func hangUp(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	svc     *SyncService
	backend *fakeBackend
	store   *repository.LocalStore
	outbox  *queue.Outbox
	api     *client.APIClient
}

// setupSync wires a signed-in service against a fake backend with one
// project holding tasks 10 and 42.
func setupSync(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := newFakeBackend()
	backend.addProject(1, "Apollo")
	backend.addTask(10, 1, "Design")
	backend.addTask(42, 1, "Build")

	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	store := repository.NewLocalStore(db.DB, logger)
	outbox := queue.NewOutbox(db.DB, logger)
	api := client.NewAPIClient(srv.URL+"/api", "device-test", 2*time.Second, store, logger)
	svc := NewSyncService(store, outbox, api, 30, logger)

	require.NoError(t, store.SaveSession(context.Background(), testToken, models.User{ID: testUserID, Name: "Ana"}))

	return &testEnv{svc: svc, backend: backend, store: store, outbox: outbox, api: api}
}
