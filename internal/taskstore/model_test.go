package taskstore

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTask(id string) *Task {
	return &Task{
		ID:               id,
		Title:            "Add the widget",
		Model:            "gpt-5.1-codex",
		DefinitionOfDone: []string{"widget renders"},
		Recommended:      map[string]any{"approach": "extend the renderer"},
	}
}

func TestTaskStatus_IsValid(t *testing.T) {
	for _, s := range []TaskStatus{StatusUnstarted, StatusStarted, StatusBlocked, StatusCompleted} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, TaskStatus("open").IsValid())
	assert.False(t, TaskStatus("").IsValid())
}

func TestTask_EffectiveStatus(t *testing.T) {
	task := &Task{ID: "T1"}
	assert.Equal(t, StatusUnstarted, task.EffectiveStatus())
	assert.False(t, task.IsCompleted())

	task.Status = StatusCompleted
	assert.True(t, task.IsCompleted())
}

func TestTask_JSONFieldNames(t *testing.T) {
	raw := `{
		"task_id": "T1",
		"title": "t",
		"model": "human",
		"definition_of_done": ["a"],
		"recommended": {"approach": "b"},
		"verification": {"commands": ["go test ./...", "  "]},
		"observability": {"run_attempts": 2, "last_note": "n", "last_update_utc": "2026-01-01T00:00:00Z", "last_run_id": "r"}
	}`

	var task Task
	require.NoError(t, json.Unmarshal([]byte(raw), &task))

	assert.Equal(t, "T1", task.ID)
	assert.True(t, task.RequiresHuman())
	assert.Equal(t, "b", task.Approach())
	assert.Equal(t, []string{"go test ./..."}, task.VerificationCommands())
	assert.Equal(t, 2, task.Attempts())
}

func TestTask_ValidateMetadata(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Task)
		valid  bool
	}{
		{name: "complete", mutate: func(*Task) {}, valid: true},
		{name: "blank title", mutate: func(t *Task) { t.Title = "  " }},
		{name: "no definition of done", mutate: func(t *Task) { t.DefinitionOfDone = nil }},
		{name: "blank definition item", mutate: func(t *Task) { t.DefinitionOfDone = []string{"ok", ""} }},
		{name: "no recommended", mutate: func(t *Task) { t.Recommended = nil }},
		{name: "blank approach", mutate: func(t *Task) { t.Recommended = map[string]any{"approach": " "} }},
		{name: "non-string approach", mutate: func(t *Task) { t.Recommended = map[string]any{"approach": 3} }},
		{name: "extra recommended key", mutate: func(t *Task) {
			t.Recommended = map[string]any{"approach": "x", "notes": "y"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask("T1")
			tt.mutate(task)

			err := task.ValidateMetadata()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), "T1")
			assert.Contains(t, err.Error(), "recommended.approach")
		})
	}
}

func TestTask_StampFillsAllObservabilityFields(t *testing.T) {
	task := validTask("T1")
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))

	task.Stamp("run-1", "note", now)

	require.NotNil(t, task.Observability)
	assert.Equal(t, 0, task.Observability.RunAttempts)
	assert.Equal(t, "run-1", task.Observability.LastRunID)
	assert.Equal(t, "note", task.Observability.LastNote)
	assert.Equal(t, "2026-03-04T04:06:07Z", task.Observability.LastUpdateUTC)

	raw, err := json.Marshal(task.Observability)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"run_attempts":0`)
}

func TestTask_Attempts(t *testing.T) {
	task := validTask("T1")
	assert.Equal(t, 0, task.Attempts())

	task.IncrementAttempts()
	task.IncrementAttempts()
	assert.Equal(t, 2, task.Attempts())

	task.Status = StatusBlocked
	task.ResetAttempts()
	assert.Equal(t, 0, task.Attempts())
	assert.Equal(t, StatusUnstarted, task.Status)
}
