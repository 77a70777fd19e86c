package taskstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModels = []string{"gpt-5.1-codex-mini", "gpt-5.1-codex", "gpt-5.2-codex"}

func TestLintTasks_Valid(t *testing.T) {
	result := LintTasks([]*Task{validTask("T1"), validTask("T2")}, testModels)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NoError(t, result.Error())
}

func TestLintTasks_DuplicateID(t *testing.T) {
	result := LintTasks([]*Task{validTask("T1"), validTask("T1")}, testModels)

	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "T1: duplicate task_id", result.Errors[0].String())
}

func TestLintTasks_UnsupportedModel(t *testing.T) {
	task := validTask("T1")
	task.Model = "gpt-4"

	result := LintTasks([]*Task{task}, testModels)

	require.False(t, result.Valid)
	assert.Contains(t, result.Error().Error(), `unsupported model "gpt-4"`)
}

func TestLintTasks_EmptyAllowListAcceptsAnyModel(t *testing.T) {
	task := validTask("T1")
	task.Model = "something-else"

	assert.True(t, LintTasks([]*Task{task}, nil).Valid)
}

func TestLintTasks_HumanTaskWarns(t *testing.T) {
	task := validTask("T1")
	task.Model = ModelHuman

	result := LintTasks([]*Task{task}, testModels)

	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].String(), "requires a human")
}

func TestLintTasks_CompletedTasksSkipMetadata(t *testing.T) {
	done := &Task{ID: "T0", Status: StatusCompleted}

	assert.True(t, LintTasks([]*Task{done}, testModels).Valid)
}

func TestLintTasks_MissingMetadataAndBadStatus(t *testing.T) {
	task := validTask("T1")
	task.Title = ""
	task.Status = "open"

	result := LintTasks([]*Task{task}, testModels)

	require.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
}
