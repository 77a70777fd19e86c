package loop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/lever/internal/run"
)

func TestCycleRecord_Complete(t *testing.T) {
	start := time.Date(2026, 2, 16, 9, 30, 0, 0, time.UTC)
	record := NewCycleRecord(2, start)

	assert.Len(t, record.CycleID, 8)
	assert.Equal(t, 2, record.Cycle)
	assert.Zero(t, record.Duration())

	record.Complete(run.Result{ExitCode: 12, TaskID: "T1", RunID: "r1", Message: "STARTED T1"}, Continue, start.Add(90*time.Second))

	assert.Equal(t, "T1", record.TaskID)
	assert.Equal(t, "r1", record.RunID)
	assert.Equal(t, 12, record.ExitCode)
	assert.Equal(t, Continue, record.Decision)
	assert.Equal(t, "STARTED T1", record.Message)
	assert.Equal(t, 90*time.Second, record.Duration())
}

func TestGenerateCycleID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateCycleID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSaveAndLoadRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "loop")
	start := time.Date(2026, 2, 16, 9, 30, 0, 0, time.UTC)
	record := NewCycleRecord(1, start)
	record.Complete(run.Result{ExitCode: 3, Message: "No runnable tasks."}, StopClean, start.Add(time.Second))

	path, err := SaveRecord(dir, record)
	require.NoError(t, err)
	assert.Equal(t, "cycle-20260216T093000Z-"+record.CycleID+".json", filepath.Base(path))

	loaded, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, record.CycleID, loaded.CycleID)
	assert.Equal(t, StopClean, loaded.Decision)
	assert.Equal(t, 3, loaded.ExitCode)
	assert.True(t, start.Equal(loaded.StartTime))
}

func TestSaveRecord_Nil(t *testing.T) {
	_, err := SaveRecord(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestLoadRecord_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRecord(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = LoadRecord(bad)
	assert.Error(t, err)
}

func TestLoadRecords(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		records, err := LoadRecords(filepath.Join(t.TempDir(), "none"))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("sorted oldest first and ignores other files", func(t *testing.T) {
		dir := t.TempDir()
		base := time.Date(2026, 2, 16, 9, 30, 0, 0, time.UTC)
		for _, offset := range []int{3, 1, 2} {
			rec := NewCycleRecord(offset, base.Add(time.Duration(offset)*time.Minute))
			_, err := SaveRecord(dir, rec)
			require.NoError(t, err)
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

		records, err := LoadRecords(dir)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, 1, records[0].Cycle)
		assert.Equal(t, 2, records[1].Cycle)
		assert.Equal(t, 3, records[2].Cycle)
	})
}
