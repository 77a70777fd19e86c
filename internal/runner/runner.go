// Package runner wires the task file, git, the agent and the run policies
// into a loop and executes it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yarlson/lever/internal/agent"
	"github.com/yarlson/lever/internal/config"
	"github.com/yarlson/lever/internal/contextpack"
	gitpkg "github.com/yarlson/lever/internal/git"
	"github.com/yarlson/lever/internal/logging"
	"github.com/yarlson/lever/internal/loop"
	"github.com/yarlson/lever/internal/prompt"
	"github.com/yarlson/lever/internal/ratelimit"
	"github.com/yarlson/lever/internal/run"
	"github.com/yarlson/lever/internal/state"
	"github.com/yarlson/lever/internal/stream"
	"github.com/yarlson/lever/internal/taskstore"
	"github.com/yarlson/lever/internal/verifier"
)

// ErrMissingDependency is returned when a required executable is not on PATH.
var ErrMissingDependency = errors.New("missing dependency")

// Options configures a run.
type Options struct {
	// Workspace is the repository root. Empty means the working directory.
	Workspace string

	// TasksPath overrides the configured task file.
	TasksPath string

	// PromptPath overrides the configured base prompt file.
	PromptPath string

	// Request selects the task for each cycle.
	Request run.Request

	// Loop sets the cycle count and delay.
	Loop loop.Options

	// Verbose echoes agent commands and reasoning.
	Verbose bool

	// LookPath resolves executables during preflight. Nil uses exec.LookPath.
	LookPath func(string) (string, error)
}

// Session is a fully wired loop ready to run.
type Session struct {
	Workspace string
	TasksPath string
	Loop      *loop.Controller
	Request   run.Request
}

// Prepare resolves paths, checks dependencies and wires every component.
// Errors are configuration errors.
func Prepare(cfg *config.Config, opts Options, logger *slog.Logger, stderr io.Writer) (*Session, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	workspace := opts.Workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workspace = wd
	}
	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	tasksPath, err := ResolveTasksPath(workspace, firstNonEmpty(opts.TasksPath, cfg.Tasks.Path))
	if err != nil {
		return nil, err
	}
	store, err := taskstore.NewFileStore(tasksPath)
	if err != nil {
		return nil, err
	}

	promptPath := firstNonEmpty(opts.PromptPath, cfg.Tasks.Prompt)
	if promptPath != "" && !filepath.IsAbs(promptPath) {
		promptPath = filepath.Join(workspace, promptPath)
	}
	base, err := prompt.LoadBase(workspace, promptPath)
	if err != nil {
		return nil, err
	}

	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if err := Preflight(cfg, lookPath); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(state.RalphDirPath(workspace), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", state.RalphDir, err)
	}

	codex := agent.NewCodexRunner(cfg.Agent.Command)
	if stderr != nil {
		codex.WithProgress(stderr, stream.Options{ShowCommands: opts.Verbose, ShowReasoning: opts.Verbose})
	}

	deps := run.ControllerDeps{
		Tasks: store,
		Git:   gitpkg.NewShellManager(workspace),
		Limiter: ratelimit.NewLimiter(ratelimit.NewFileLedger(state.RateLimitPath(workspace)), ratelimit.Options{
			Window:   cfg.RateLimit.Window,
			Models:   cfg.RateSettings(),
			Fallback: cfg.RateLimit.Fallback,
			Logger:   logger,
		}),
		Agent:    codex,
		Verifier: verifier.NewShellRunner(workspace),
		Logger:   logger,
	}
	// Assigned only when enabled so the interface stays nil otherwise.
	if cfg.Context.Enabled {
		ctxOpts := cfg.ContextOptions()
		deps.Compiler = contextpack.NewCompiler(contextpack.NewAssemblyBuilder(ctxOpts.AssemblyPath), ctxOpts, logger)
	}

	runs := run.NewController(deps, run.Options{
		Workspace:        workspace,
		BaseBranch:       cfg.Git.BaseBranch,
		BranchPrefix:     cfg.Git.BranchPrefix,
		Models:           cfg.Agent.Models,
		MaxAttempts:      cfg.Run.MaxAttempts,
		MaxAgentAttempts: cfg.Run.MaxAgentAttempts,
		BasePrompt:       base,
	})

	logger.Info("lever configured",
		"tasks", tasksPath,
		"prompt", promptPath,
		"command", cfg.Agent.Command,
		"context_compile", cfg.Context.Enabled,
		"context_policy", cfg.Context.Policy)

	req := opts.Request
	if req.TaskID == "" {
		req.Next = true
	}

	return &Session{
		Workspace: workspace,
		TasksPath: tasksPath,
		Loop: loop.NewController(loop.ControllerDeps{
			Runs:       runs,
			Logger:     logger,
			RecordsDir: state.LoopDirPath(workspace),
		}, opts.Loop),
		Request: req,
	}, nil
}

// Run executes the session and returns the process exit code.
func (s *Session) Run(ctx context.Context, stdout io.Writer) int {
	res := s.Loop.Run(ctx, s.Request)
	_, _ = fmt.Fprint(stdout, FormatResult(res))
	return res.ExitCode
}

// Preflight checks that git and the agent command are on PATH.
func Preflight(cfg *config.Config, lookPath func(string) (string, error)) error {
	for _, name := range []string{"git", cfg.Agent.Command} {
		if _, err := lookPath(name); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingDependency, name)
		}
	}
	return nil
}

// ResolveTasksPath returns the task file to use. An explicit path is taken
// relative to the workspace; otherwise the workspace is searched.
func ResolveTasksPath(workspace, path string) (string, error) {
	if path == "" {
		return taskstore.Discover(workspace)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return path, nil
}

// FormatResult renders the outcome of a loop for the terminal.
func FormatResult(res loop.Result) string {
	var sb strings.Builder
	for _, rec := range res.Records {
		if rec.Message != "" {
			fmt.Fprintf(&sb, "lever: %s\n", rec.Message)
		}
	}
	if len(res.Records) > 1 || res.Decision == loop.StopLimit {
		fmt.Fprintf(&sb, "lever: loop stopped (%s) after %d cycle(s), exit %d\n", res.Decision, res.Cycles, res.ExitCode)
	}
	if res.Cycles == 0 && res.Decision == loop.StopInterrupted {
		sb.WriteString("lever: interrupted before the first run\n")
	}
	return sb.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
