package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"deploytime/sync-agent/internal/database"
	"deploytime/sync-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestStore(t *testing.T) (*LocalStore, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLocalStore(db.DB, zap.NewNop()), db
}

var baseTime = time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC)

func seedTask(t *testing.T, s *LocalStore, projectID, taskID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveProjects(ctx, []models.Project{{ID: projectID, Name: "Project"}}))
	deferred, err := s.SaveTasks(ctx, []models.Task{{ID: taskID, ProjectID: projectID, Name: "Task"}})
	require.NoError(t, err)
	require.Empty(t, deferred)
}

func TestSaveProjects_IdempotentUpsert(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	p := models.Project{ID: 1, Name: "Website", Description: "v1", CreatedBy: 3, CreatedAt: baseTime, UpdatedAt: baseTime}
	require.NoError(t, s.SaveProjects(ctx, []models.Project{p}))
	first, err := s.ListProjects(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SaveProjects(ctx, []models.Project{p}))
	second, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.True(t, second[0].Synced)

	p.Name = "Website v2"
	p.Description = ""
	require.NoError(t, s.SaveProjects(ctx, []models.Project{p}))
	got, err := s.GetProject(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Website v2", got.Name)
	assert.Equal(t, "", got.Description)
	assert.Equal(t, baseTime, got.CreatedAt)
}

func TestSaveTasks_DefersTasksWithoutProject(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProjects(ctx, []models.Project{{ID: 1, Name: "P"}}))
	hours := models.Hours(1.5)
	deferred, err := s.SaveTasks(ctx, []models.Task{
		{ID: 10, ProjectID: 1, Name: "Kept", EstimatedHours: &hours, Status: models.TaskInProgress},
		{ID: 11, ProjectID: 2, Name: "Early"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, deferred)

	task, err := s.GetTask(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, task.Status)
	require.NotNil(t, task.EstimatedHours)
	assert.Equal(t, hours, *task.EstimatedHours)

	_, err = s.GetTask(ctx, 11)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceProjectTasks_PrunesUnreferencedTasks(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProjects(ctx, []models.Project{{ID: 1, Name: "P"}}))
	_, err := s.SaveTasks(ctx, []models.Task{
		{ID: 10, ProjectID: 1, Name: "a"},
		{ID: 11, ProjectID: 1, Name: "b"},
		{ID: 12, ProjectID: 1, Name: "c"},
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveTimeEntry(ctx, models.TimeEntry{ID: 100, TaskID: 12, UserID: 1, StartTime: baseTime}))

	_, err = s.ReplaceProjectTasks(ctx, 1, []models.Task{{ID: 10, ProjectID: 1, Name: "a2"}})
	require.NoError(t, err)

	tasks, err := s.ListProjectTasks(ctx, 1)
	require.NoError(t, err)
	names := []string{}
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"a2", "c"}, names)

	_, err = s.ReplaceProjectTasks(ctx, 99, nil)
	assert.ErrorIs(t, err, ErrMissingParent)
}

func TestSaveTimeEntry_ParentHandling(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	err := s.SaveTimeEntry(ctx, models.TimeEntry{ID: 1, TaskID: 5, UserID: 1, StartTime: baseTime})
	assert.ErrorIs(t, err, ErrMissingParent)

	embedded := models.TimeEntry{
		ID: 2, TaskID: 5, UserID: 1, StartTime: baseTime, Synced: true,
		Task: &models.Task{ID: 5, ProjectID: 7, Name: "Embedded", Project: &models.Project{ID: 7, Name: "Nested"}},
	}
	require.NoError(t, s.SaveTimeEntry(ctx, embedded))

	got, err := s.GetTimeEntry(ctx, 2)
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.True(t, got.IsRunning())

	project, err := s.GetProject(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Nested", project.Name)
}

func TestGetActiveTimeEntry_ClampsNegativeDurations(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	seedTask(t, s, 1, 10)

	_, err := db.Exec(`INSERT INTO time_entries (id, task_id, user_id, start_time, end_time, synced)
		VALUES (1, 10, 1, ?, ?, 1)`,
		models.FormatTime(baseTime), models.FormatTime(baseTime.Add(-time.Hour)))
	require.NoError(t, err)

	_, err = s.GetActiveTimeEntry(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	var end string
	require.NoError(t, db.QueryRow(`SELECT end_time FROM time_entries WHERE id = 1`).Scan(&end))
	assert.Equal(t, models.FormatTime(baseTime), end)
}

func TestGetEntries_ClampOnReadAndOrdering(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	seedTask(t, s, 1, 10)

	for i, day := range []int{14, 16, 15} {
		start := time.Date(2026, 1, day, 9, 0, 0, 0, time.UTC)
		end := start.Add(time.Hour)
		require.NoError(t, s.SaveTimeEntry(ctx, models.TimeEntry{ID: int64(i + 1), TaskID: 10, UserID: 1, StartTime: start, EndTime: &end}))
	}
	_, err := db.Exec(`INSERT INTO time_entries (id, task_id, user_id, start_time, end_time) VALUES (9, 10, 2, ?, ?)`,
		models.FormatTime(baseTime), models.FormatTime(baseTime.Add(-time.Minute)))
	require.NoError(t, err)

	entries, err := s.GetEntries(ctx, 1, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, int64(3), entries[1].ID)
	assert.Equal(t, int64(1), entries[2].ID)

	entries, err = s.GetEntries(ctx, 1, "2026-01-15", "2026-01-16")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ID)

	other, err := s.GetEntries(ctx, 2, "", "")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, other[0].StartTime, *other[0].EndTime)
}

func TestDeleteOpenEntriesExcept_LeavesSingleActive(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	seedTask(t, s, 1, 10)

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, s.SaveTimeEntry(ctx, models.TimeEntry{ID: id, TaskID: 10, UserID: 1, StartTime: baseTime.Add(time.Duration(id) * time.Minute)}))
	}

	n, err := s.DeleteOpenEntriesExcept(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	open, err := s.ListOpenEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].ID)
}

func TestSession(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.Session(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSession(ctx, "tok", models.User{ID: 4, Email: "a@b.c"}))
	token, user, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, int64(4), user.ID)

	require.NoError(t, s.SetConfig(ctx, ConfigServerURL, "http://x"))
	require.NoError(t, s.ClearSession(ctx))
	_, _, err = s.Session(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	url, err := s.GetConfig(ctx, ConfigServerURL)
	require.NoError(t, err)
	assert.Equal(t, "http://x", url)
}
