package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/lever/internal/run"
)

func TestValidateCommand(t *testing.T) {
	t.Run("accepts a good task file", func(t *testing.T) {
		dir, cfgPath := setupWorkspace(t, cmdTasks)

		out, _, err := execute(t, "validate", "--workspace", dir, "--config", cfgPath)

		require.NoError(t, err)
		assert.Contains(t, out, "2 task(s) OK")
	})

	t.Run("reports every problem", func(t *testing.T) {
		dir, cfgPath := setupWorkspace(t, `[
  {"task_id": "T1", "title": "A", "model": "gpt-5.1-codex",
   "definition_of_done": ["x"], "recommended": {"approach": "y"}},
  {"task_id": "T1", "title": "B", "model": "gpt-4",
   "definition_of_done": ["x"], "recommended": {"approach": "y"}},
  {"task_id": "T3", "model": "gpt-5.1-codex"},
  {"task_id": "H1", "title": "Sign off", "model": "human",
   "definition_of_done": ["ok"], "recommended": {"approach": "review"}}
]`)

		out, _, err := execute(t, "validate", "--workspace", dir, "--config", cfgPath)

		require.Error(t, err)
		assert.Equal(t, run.ExitConfig, ExitCode(err))
		assert.Contains(t, out, "error: T1: duplicate task_id")
		assert.Contains(t, out, `error: T1: unsupported model "gpt-4"`)
		assert.Contains(t, out, "error: T3: missing required metadata")
		assert.Contains(t, out, "warning: H1: requires a human")
	})
}
