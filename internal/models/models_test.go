package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHours_UnmarshalNumberAndString(t *testing.T) {
	var task Task
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"estimated_hours":"2.50"}`), &task))
	require.NotNil(t, task.EstimatedHours)
	assert.Equal(t, Hours(2.5), *task.EstimatedHours)

	task = Task{}
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"estimated_hours":4}`), &task))
	assert.Equal(t, Hours(4), *task.EstimatedHours)

	task = Task{}
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"estimated_hours":null}`), &task))
	assert.Nil(t, task.EstimatedHours)
}

func TestTimeEntry_ClampEnd(t *testing.T) {
	start := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	before := start.Add(-5 * time.Minute)
	entry := TimeEntry{StartTime: start, EndTime: &before}

	assert.True(t, entry.ClampEnd())
	assert.Equal(t, start, *entry.EndTime)
	assert.False(t, entry.ClampEnd())

	running := TimeEntry{StartTime: start}
	assert.False(t, running.ClampEnd())
	assert.True(t, running.IsRunning())
	assert.Equal(t, time.Hour, running.Duration(start.Add(time.Hour)))
}

func TestTimeLayout_SortsLexically(t *testing.T) {
	a := FormatTime(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))
	b := FormatTime(time.Date(2026, 1, 2, 10, 0, 0, 500, time.UTC))
	assert.Less(t, a, b)

	parsed, err := ParseTime("2026-01-16T13:56:42.000000Z")
	require.NoError(t, err)
	assert.Equal(t, 13, parsed.Hour())

	parsed, err = ParseTime("2026-01-16T15:56:42+02:00")
	require.NoError(t, err)
	assert.Equal(t, 13, parsed.Hour())
}

func TestDecodeMutation(t *testing.T) {
	tests := []struct {
		name     string
		entity   EntityType
		action   Action
		target   int64
		data     string
		expected Mutation
	}{
		{"start", EntityTimeEntry, ActionStart, 0, `{"task_id":42,"notes":"n"}`, StartTimer{TaskID: 42, Notes: "n"}},
		{"stop", EntityTimeEntry, ActionStop, 7, `{"notes":"done"}`, StopTimer{EntryID: 7, Notes: "done"}},
		{"create", EntityTask, ActionCreate, 0, `{"project_id":3,"name":"Docs"}`, CreateTask{ProjectID: 3, Name: "Docs"}},
		{"complete", EntityTask, ActionComplete, 9, `{}`, CompleteTask{TaskID: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeMutation(tt.entity, tt.action, tt.target, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
			assert.Equal(t, tt.entity, m.EntityType())
			assert.Equal(t, tt.action, m.Action())
			assert.Equal(t, tt.target, m.TargetID())
		})
	}

	_, err := DecodeMutation(EntityTask, ActionStart, 0, []byte(`{}`))
	assert.Error(t, err)
}

func TestOutboxItem_MarshalJSON(t *testing.T) {
	item := OutboxItem{ID: 1, RequestID: "r", Mutation: StartTimer{TaskID: 42, Notes: "x"}}
	b, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "time_entry", decoded["entity_type"])
	assert.Equal(t, "start", decoded["action"])
	assert.Equal(t, map[string]any{"task_id": float64(42), "notes": "x"}, decoded["data"])
}
