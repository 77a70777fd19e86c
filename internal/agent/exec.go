package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/yarlson/lever/internal/stream"
)

// DefaultCommand is the agent binary used when none is configured.
const DefaultCommand = "codex"

// cancelGrace is how long the agent gets to exit after an interrupt before it
// is killed.
const cancelGrace = 10 * time.Second

// CodexRunner executes `codex exec` as a subprocess.
type CodexRunner struct {
	// command is the path to the agent binary (e.g., "codex" or "/usr/local/bin/codex").
	command string

	progress   io.Writer
	streamOpts stream.Options
}

// NewCodexRunner creates a CodexRunner for the given command.
func NewCodexRunner(command string) *CodexRunner {
	if command == "" {
		command = DefaultCommand
	}
	return &CodexRunner{command: command}
}

// WithProgress echoes the agent's event stream to w while it runs.
func (r *CodexRunner) WithProgress(w io.Writer, opts stream.Options) *CodexRunner {
	r.progress = w
	r.streamOpts = opts
	return r
}

// Run executes the agent with the prompt on stdin and its combined output
// written to the log file.
func (r *CodexRunner) Run(ctx context.Context, req Request) (*Response, error) {
	prompt, err := os.Open(req.PromptPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open prompt: %v", ErrStart, err)
	}
	defer func() { _ = prompt.Close() }()

	logFile, err := os.Create(req.LogPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create log file %s: %v", ErrStart, req.LogPath, err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.CommandContext(ctx, r.command, buildArgs(req)...)
	cmd.Dir = req.Workspace
	cmd.Stdin = prompt
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = cancelGrace

	var out io.Writer = logFile
	var (
		pw   *io.PipeWriter
		done chan struct{}
	)
	if r.progress != nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = stream.NewProcessor(r.progress, r.streamOpts).Process(pr)
			// Keep draining so the agent never blocks on a stalled echo.
			_, _ = io.Copy(io.Discard, pr)
		}()
		out = io.MultiWriter(logFile, pw)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if pw != nil {
			_ = pw.Close()
			<-done
		}
		return nil, fmt.Errorf("%w: failed to start command %s: %v", ErrStart, r.command, err)
	}

	waitErr := cmd.Wait()
	if pw != nil {
		_ = pw.Close()
		<-done
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
	}

	resp := &Response{Duration: time.Since(start)}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("command failed: %w", waitErr)
		}
		resp.ExitCode = exitErr.ExitCode()
		if resp.ExitCode < 0 {
			resp.ExitCode = 1
		}
	}
	return resp, nil
}

// buildArgs constructs the command-line arguments for `codex exec`.
// The prompt is read from stdin ("-").
func buildArgs(req Request) []string {
	return []string{
		"exec",
		"--yolo",
		"--model", req.Model,
		"--output-schema", req.SchemaPath,
		"--output-last-message", req.ResultPath,
		"--json",
		"--skip-git-repo-check",
		"-",
	}
}
