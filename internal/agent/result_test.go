package agent

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResult(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := ReadResult(filepath.Join(dir, "missing.json"))
		assert.True(t, errors.Is(err, ErrNoResult))
		assert.False(t, HasResult(filepath.Join(dir, "missing.json")))
	})

	t.Run("empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte("  \n"), 0644))
		_, err := ReadResult(path)
		assert.True(t, errors.Is(err, ErrNoResult))
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
		_, err := ReadResult(path)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNoResult))
	})

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "result.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
  "task_id": "T1", "outcome": "completed", "dod_met": true, "summary": "done",
  "tests": {"ran": true, "commands": ["go test ./..."], "passed": true},
  "notes": "", "blockers": []
}`), 0644))

		res, err := ReadResult(path)
		require.NoError(t, err)
		assert.True(t, HasResult(path))
		assert.Equal(t, "T1", res.TaskID)
		assert.True(t, res.Completed())
		assert.Equal(t, []string{"go test ./..."}, res.Tests.Commands)
	})
}

func TestResult_Completed(t *testing.T) {
	assert.True(t, (&Result{Outcome: OutcomeCompleted, DodMet: true}).Completed())
	assert.False(t, (&Result{Outcome: OutcomeCompleted}).Completed())
	assert.False(t, (&Result{Outcome: OutcomeStarted, DodMet: true}).Completed())
}

func TestEnsureSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ralph", "task_result.schema.json")

	require.NoError(t, EnsureSchema(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Len(t, schema["required"], 7)

	// An existing file is left alone.
	require.NoError(t, os.WriteFile(path, []byte("custom"), 0644))
	require.NoError(t, EnsureSchema(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", string(data))
}

func TestCompact(t *testing.T) {
	assert.Equal(t, "a b c", Compact("a\n  b\tc", 100))
	assert.Equal(t, "abcd...", Compact("abcdefghij", 7))
	assert.Equal(t, "short", Compact("short", 0))
}
