package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/lever/internal/taskstore"
)

func testTask() *taskstore.Task {
	return &taskstore.Task{
		ID:               "T1",
		Title:            "Add parser",
		Model:            "gpt-5.1-codex",
		DefinitionOfDone: []string{"parser exists", "tests pass"},
		Recommended:      map[string]any{"approach": "Start from the lexer."},
	}
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(nil)

	got, err := b.Build(Input{
		Base:     "BASE",
		Task:     testTask(),
		Snapshot: `{"task_id": "T1"}`,
	})
	require.NoError(t, err)

	want := "BASE\n\n" +
		"Task title: Add parser\n" +
		"\nDefinition of done:\n" +
		"  - parser exists\n" +
		"  - tests pass\n" +
		"\nRecommended approach:\n" +
		"Start from the lexer.\n" +
		"\nTask JSON (authoritative):\n" +
		`{"task_id": "T1"}` + "\n"
	assert.Equal(t, want, got)
}

func TestBuilder_Build_WithContext(t *testing.T) {
	b := NewBuilder(nil)

	got, err := b.Build(Input{
		Base:          "BASE",
		Task:          testTask(),
		Snapshot:      "{}\n",
		Context:       "# Context\nfiles...",
		ContextSource: ".ralph/runs/T1/r1/pack/context.md",
	})
	require.NoError(t, err)

	assert.Contains(t, got, "\nCompiled context (.ralph/runs/T1/r1/pack/context.md):\n# Context\nfiles...\n")
	assert.True(t, strings.HasSuffix(got, "\nTask JSON (authoritative):\n{}\n"))
	assert.Less(t, strings.Index(got, "Compiled context"), strings.Index(got, "Task JSON"))
}

func TestBuilder_Build_TruncatesContext(t *testing.T) {
	b := NewBuilder(&SizeOptions{MaxContextBytes: 10})

	got, err := b.Build(Input{Task: testTask(), Context: strings.Repeat("x", 100)})
	require.NoError(t, err)
	assert.Contains(t, got, strings.Repeat("x", 10)+"\n... [truncated]\n")
	assert.NotContains(t, got, strings.Repeat("x", 11))
}

func TestBuilder_Build_RequiresTask(t *testing.T) {
	_, err := NewBuilder(nil).Build(Input{})
	assert.Error(t, err)
}

func TestSizeOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultSizeOptions().Validate())
	assert.Error(t, SizeOptions{MaxContextBytes: -1}.Validate())
}

func TestLoadBase(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "p.md")
		require.NoError(t, os.WriteFile(path, []byte("custom"), 0644))

		got, err := LoadBase(t.TempDir(), path)
		require.NoError(t, err)
		assert.Equal(t, "custom", got)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := LoadBase(t.TempDir(), filepath.Join(t.TempDir(), "nope.md"))
		assert.Error(t, err)
	})

	t.Run("workspace default", func(t *testing.T) {
		ws := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(ws, "prompts"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(ws, DefaultPath), []byte("from workspace"), 0644))

		got, err := LoadBase(ws, "")
		require.NoError(t, err)
		assert.Equal(t, "from workspace", got)
	})

	t.Run("built-in fallback", func(t *testing.T) {
		got, err := LoadBase(t.TempDir(), "")
		require.NoError(t, err)
		assert.Equal(t, DefaultBase, got)
	})
}
