package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ShellRunner implements Verifier with an in-process POSIX shell. All
// commands of one pass share a shell session, so `cd` and exported variables
// carry over. The session runs under `set -euo pipefail`: any failing
// statement, unset variable or failing pipeline stage fails the command.
type ShellRunner struct {
	workDir  string
	trim     TrimOptions
	detector func(dir string) (string, bool)
}

// NewShellRunner creates a ShellRunner rooted at workDir.
func NewShellRunner(workDir string) *ShellRunner {
	return &ShellRunner{
		workDir:  workDir,
		trim:     DefaultTrimOptions(),
		detector: Detect,
	}
}

// SetTrimOptions sets how much command output is kept in each result.
// The log file always receives the full output.
func (r *ShellRunner) SetTrimOptions(opts TrimOptions) {
	r.trim = opts
}

// Verify runs the task's commands, or the detected entry point when there are none.
func (r *ShellRunner) Verify(ctx context.Context, req Request) (*Report, error) {
	report := &Report{Source: SourceTask}
	commands := req.Commands
	if len(commands) == 0 {
		cmd, ok := r.detector(r.workDir)
		if !ok {
			report.Source = SourceNone
			if req.LogPath != "" {
				_ = os.WriteFile(req.LogPath, []byte("no verification commands declared or detected\n"), 0644)
			}
			return report, nil
		}
		report.Source = SourceDetected
		commands = []string{cmd}
	}

	var log io.Writer = io.Discard
	if req.LogPath != "" {
		f, err := os.Create(req.LogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create verification log: %w", err)
		}
		defer func() { _ = f.Close() }()
		log = f
	}

	var out bytes.Buffer
	stdout := io.MultiWriter(log, &out)
	runner, err := interp.New(
		interp.Dir(r.workDir),
		interp.StdIO(nil, stdout, stdout),
		interp.Env(expand.ListEnviron(os.Environ()...)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shell: %w", err)
	}
	if err := runScript(ctx, runner, "set -euo pipefail"); err != nil {
		return nil, fmt.Errorf("failed to configure shell: %w", err)
	}

	for _, command := range commands {
		out.Reset()
		_, _ = fmt.Fprintf(log, "$ %s\n", command)

		start := time.Now()
		err := runScript(ctx, runner, command)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("verification cancelled: %w", ctx.Err())
		}

		result := VerificationResult{
			Passed:   err == nil,
			Command:  command,
			Output:   TrimOutput(out.String(), r.trim),
			Duration: time.Since(start),
		}
		if err != nil {
			result.ExitCode = exitCode(err)
			if result.ExitCode < 0 {
				result.Output = TrimOutput(out.String()+err.Error()+"\n", r.trim)
				_, _ = fmt.Fprintf(log, "%v\n", err)
			}
		}
		report.Results = append(report.Results, result)

		if !result.Passed || runner.Exited() {
			break
		}
	}

	return report, nil
}

func runScript(ctx context.Context, runner *interp.Runner, src string) error {
	file, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		return err
	}
	return runner.Run(ctx, file)
}

func exitCode(err error) int {
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status)
	}
	return -1
}
