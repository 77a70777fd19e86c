package verifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunner_ImplementsVerifier(t *testing.T) {
	var _ Verifier = (*ShellRunner)(nil)
}

func TestShellRunner_TaskCommands(t *testing.T) {
	t.Run("all pass", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(t.TempDir(), "verify.log")

		report, err := NewShellRunner(dir).Verify(context.Background(), Request{
			Commands: []string{"echo hello", "echo oops >&2"},
			LogPath:  logPath,
		})
		require.NoError(t, err)

		assert.Equal(t, SourceTask, report.Source)
		assert.True(t, report.Ran())
		assert.True(t, report.Passed())
		require.Len(t, report.Results, 2)
		assert.Equal(t, "hello\n", report.Results[0].Output)
		assert.Equal(t, "oops\n", report.Results[1].Output)

		log, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Equal(t, "$ echo hello\nhello\n$ echo oops >&2\noops\n", string(log))
	})

	t.Run("stops at first failure", func(t *testing.T) {
		dir := t.TempDir()
		report, err := NewShellRunner(dir).Verify(context.Background(), Request{
			Commands: []string{"true", "echo broken; exit 3", "touch never-created"},
		})
		require.NoError(t, err)

		assert.False(t, report.Passed())
		require.Len(t, report.Results, 2)
		failed := report.Failed()
		require.NotNil(t, failed)
		assert.Equal(t, 3, failed.ExitCode)
		assert.Equal(t, "echo broken; exit 3", failed.Command)
		assert.Equal(t, "broken\n", failed.Output)
		assert.NoFileExists(t, filepath.Join(dir, "never-created"))
	})

	t.Run("pipelines fail when any stage fails", func(t *testing.T) {
		report, err := NewShellRunner(t.TempDir()).Verify(context.Background(), Request{
			Commands: []string{"false | cat"},
		})
		require.NoError(t, err)
		assert.False(t, report.Passed())
	})

	t.Run("earlier statement failure fails the command", func(t *testing.T) {
		dir := t.TempDir()
		report, err := NewShellRunner(dir).Verify(context.Background(), Request{
			Commands: []string{"false; touch after", "echo next"},
		})
		require.NoError(t, err)

		assert.False(t, report.Passed())
		require.Len(t, report.Results, 1)
		assert.Equal(t, 1, report.Results[0].ExitCode)
		assert.NoFileExists(t, filepath.Join(dir, "after"))
	})

	t.Run("multi-line command stops at failing line", func(t *testing.T) {
		dir := t.TempDir()
		report, err := NewShellRunner(dir).Verify(context.Background(), Request{
			Commands: []string{"echo one\nfalse\ntouch after"},
		})
		require.NoError(t, err)

		failed := report.Failed()
		require.NotNil(t, failed)
		assert.Equal(t, 1, failed.ExitCode)
		assert.Equal(t, "one\n", failed.Output)
		assert.NoFileExists(t, filepath.Join(dir, "after"))
	})

	t.Run("unset variable fails the command", func(t *testing.T) {
		report, err := NewShellRunner(t.TempDir()).Verify(context.Background(), Request{
			Commands: []string{`test -z "$LEVER_VERIFY_NEVER_SET"`},
		})
		require.NoError(t, err)

		assert.False(t, report.Passed())
		require.Len(t, report.Results, 1)
		assert.NotEqual(t, 0, report.Results[0].ExitCode)
	})

	t.Run("session state carries over", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

		report, err := NewShellRunner(dir).Verify(context.Background(), Request{
			Commands: []string{"cd sub", "export MARK=1", `[ "$MARK" = 1 ] && touch here`},
		})
		require.NoError(t, err)
		assert.True(t, report.Passed())
		assert.FileExists(t, filepath.Join(dir, "sub", "here"))
	})

	t.Run("syntax error fails the command", func(t *testing.T) {
		report, err := NewShellRunner(t.TempDir()).Verify(context.Background(), Request{
			Commands: []string{"if then fi ("},
		})
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.False(t, report.Results[0].Passed)
		assert.Equal(t, -1, report.Results[0].ExitCode)
		assert.NotEmpty(t, report.Results[0].Output)
	})
}

func TestShellRunner_Detected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "ci.sh"), []byte("#!/bin/sh\necho ci ran\n"), 0755))

	report, err := NewShellRunner(dir).Verify(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, SourceDetected, report.Source)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "./scripts/ci.sh", report.Results[0].Command)
	assert.Equal(t, "ci ran\n", report.Results[0].Output)
	assert.True(t, report.Passed())
}

func TestShellRunner_NothingToRun(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "verify.log")
	runner := NewShellRunner(t.TempDir())
	runner.detector = func(string) (string, bool) { return "", false }

	report, err := runner.Verify(context.Background(), Request{LogPath: logPath})
	require.NoError(t, err)

	assert.Equal(t, SourceNone, report.Source)
	assert.False(t, report.Ran())
	assert.True(t, report.Passed())
	assert.FileExists(t, logPath)
}

func TestShellRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewShellRunner(t.TempDir()).Verify(ctx, Request{Commands: []string{"sleep 30"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestShellRunner_TrimsResultOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "verify.log")
	runner := NewShellRunner(t.TempDir())
	runner.SetTrimOptions(TrimOptions{MaxLines: 2})

	report, err := runner.Verify(context.Background(), Request{
		Commands: []string{"printf 'a\\nb\\nc\\nd'"},
		LogPath:  logPath,
	})
	require.NoError(t, err)
	assert.Equal(t, TruncationMarker+"\nc\nd", report.Results[0].Output)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "a\nb\nc\nd", "the log keeps everything")
}
