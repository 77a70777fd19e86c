package contextpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// ErrBuilderStart is returned when the pack builder could not be started.
var ErrBuilderStart = errors.New("pack builder did not start")

// BuildRequest describes one pack build.
type BuildRequest struct {
	Workspace      string
	TaskID         string
	BriefPath      string
	OutDir         string
	SummaryPath    string
	StdoutPath     string
	StderrPath     string
	TokenBudget    int
	Exclude        []string
	ExcludeRuntime []string
}

// BuildResult is the builder's exit status.
type BuildResult struct {
	ExitCode int
}

// Builder produces a context pack. A non-zero exit is reported in the result,
// not as an error.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

// AssemblyBuilder runs the `assembly` command line tool.
type AssemblyBuilder struct {
	path string
}

// NewAssemblyBuilder creates an AssemblyBuilder for the binary at path.
func NewAssemblyBuilder(path string) *AssemblyBuilder {
	if path == "" {
		path = DefaultAssemblyPath
	}
	return &AssemblyBuilder{path: path}
}

// Build runs `assembly build` with stdout and stderr captured to files.
func (b *AssemblyBuilder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	stdout, err := os.Create(req.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuilderStart, err)
	}
	defer func() { _ = stdout.Close() }()
	stderr, err := os.Create(req.StderrPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuilderStart, err)
	}
	defer func() { _ = stderr.Close() }()

	cmd := exec.CommandContext(ctx, b.path, buildArgs(req)...)
	cmd.Dir = req.Workspace
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrBuilderStart, b.path, err)
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("pack build cancelled: %w", ctx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("pack build failed: %w", waitErr)
		}
		return &BuildResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return &BuildResult{}, nil
}

func buildArgs(req BuildRequest) []string {
	args := []string{
		"build",
		"--repo", req.Workspace,
		"--task", "@" + req.BriefPath,
		"--task-id", req.TaskID,
		"--out", req.OutDir,
		"--token-budget", strconv.Itoa(req.TokenBudget),
	}
	for _, g := range req.Exclude {
		args = append(args, "--exclude", g)
	}
	for _, g := range req.ExcludeRuntime {
		args = append(args, "--exclude-runtime", g)
	}
	return append(args, "--summary-json", req.SummaryPath)
}
