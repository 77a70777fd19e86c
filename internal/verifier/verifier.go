// Package verifier runs verification commands after the agent reports a task
// as done.
package verifier

import (
	"context"
	"time"
)

// Source says where the verification commands came from.
type Source string

const (
	// SourceTask means the task declared verification.commands.
	SourceTask Source = "task"
	// SourceDetected means a command was auto-detected in the workspace.
	SourceDetected Source = "detected"
	// SourceNone means there was nothing to run.
	SourceNone Source = "none"
)

// VerificationResult contains the outcome of running a single verification command.
type VerificationResult struct {
	// Passed indicates whether the command exited successfully (exit code 0).
	Passed bool `json:"passed"`

	// Command is the shell command line that was executed.
	Command string `json:"command"`

	// ExitCode is the command's exit status, -1 when it could not run.
	ExitCode int `json:"exit_code"`

	// Output is the tail of the combined stdout/stderr output.
	Output string `json:"output"`

	// Duration is how long the command took to execute.
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of one verification pass.
type Report struct {
	Source  Source               `json:"source"`
	Results []VerificationResult `json:"results"`
}

// Ran reports whether any command was executed.
func (r *Report) Ran() bool {
	return len(r.Results) > 0
}

// Passed reports whether every executed command succeeded. A pass with
// nothing to run counts as passed.
func (r *Report) Passed() bool {
	return r.Failed() == nil
}

// Failed returns the first failed result, or nil.
func (r *Report) Failed() *VerificationResult {
	for i := range r.Results {
		if !r.Results[i].Passed {
			return &r.Results[i]
		}
	}
	return nil
}

// Request lists the commands to run and where to log their output.
// When Commands is empty the workspace is searched for a verification entry point.
type Request struct {
	Commands []string
	LogPath  string
}

// Verifier defines the interface for running verification commands.
type Verifier interface {
	// Verify runs the commands in order and stops at the first failure.
	// Command failures are reported in the Report; the error is reserved for
	// cancellation and I/O problems.
	Verify(ctx context.Context, req Request) (*Report, error)
}
