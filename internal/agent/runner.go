// Package agent runs the coding agent for a single task attempt and reads back
// what it reported.
package agent

import (
	"context"
	"errors"
	"time"
)

// ErrStart is returned when the agent process could not be started.
// No attempt should be counted in that case.
var ErrStart = errors.New("agent did not start")

// Request contains the parameters for one agent invocation.
type Request struct {
	// Workspace is the working directory for the agent process.
	Workspace string

	// Model is passed to the agent verbatim.
	Model string

	// PromptPath is fed to the agent on stdin.
	PromptPath string

	// SchemaPath is the JSON schema the final message must satisfy.
	SchemaPath string

	// ResultPath is where the agent writes its final structured message.
	ResultPath string

	// LogPath receives the agent's combined stdout and stderr.
	LogPath string
}

// Response describes a finished agent process.
type Response struct {
	// ExitCode is the process exit status. A process killed by a signal
	// reports 1.
	ExitCode int

	// Duration is the wall time between start and exit.
	Duration time.Duration
}

// Runner is the interface for executing the agent as a subprocess.
//
// A non-zero exit code is not an error: the caller decides what it means by
// looking at the result file. Run returns an error wrapping ErrStart when the
// process never started, and a context error when it was cancelled.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}
