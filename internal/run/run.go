// Package run executes a single task run: select, branch, compile context,
// invoke the agent, verify, and record the outcome in the task file.
package run

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/yarlson/lever/internal/agent"
	"github.com/yarlson/lever/internal/contextpack"
	"github.com/yarlson/lever/internal/git"
	"github.com/yarlson/lever/internal/prompt"
	"github.com/yarlson/lever/internal/ratelimit"
	"github.com/yarlson/lever/internal/taskstore"
	"github.com/yarlson/lever/internal/verifier"
)

// Process exit codes. They are a stable contract with the loop and with
// whatever drives lever.
const (
	ExitCompleted     = 0
	ExitInfra         = 1
	ExitConfig        = 2
	ExitNoTask        = 3
	ExitHuman         = 4
	ExitOrdering      = 6
	ExitNoResult      = 10
	ExitBlocked       = 11
	ExitProgress      = 12
	ExitContextFailed = 13
	ExitInterrupted   = 130
)

// Defaults used when Options leaves a limit at zero.
const (
	DefaultMaxAttempts      = 3
	DefaultMaxAgentAttempts = 3
)

// SummaryLimit bounds summaries and notes echoed into the log.
const SummaryLimit = 220

// Request selects the task for one run.
type Request struct {
	// TaskID names the task explicitly. It must be first in line.
	TaskID string

	// Next picks the head of the line.
	Next bool

	// ResetTask clears the attempt counter of TaskID before running.
	ResetTask bool
}

// Result is the outcome of one run.
type Result struct {
	ExitCode int
	TaskID   string
	RunID    string
	Message  string
}

// Throttle paces agent calls and records their token usage.
type Throttle interface {
	Wait(ctx context.Context, model string, estimate int) (time.Duration, error)
	Record(model string, tokens int) error
}

// ContextCompiler compiles a context pack and applies the failure policy.
type ContextCompiler interface {
	Compile(ctx context.Context, req contextpack.CompileRequest) (*contextpack.Report, error)
}

// Options are the fixed settings of a controller.
type Options struct {
	// Workspace is the repository root.
	Workspace string

	// BaseBranch is where run branches start and merge back.
	BaseBranch string

	// BranchPrefix is prepended to the task id to name the run branch.
	BranchPrefix string

	// Models is the allow-list of agent models.
	Models []string

	// MaxAttempts is the number of agent runs a task gets before it is blocked.
	MaxAttempts int

	// MaxAgentAttempts bounds agent invocations per run when the agent hits
	// a rate limit before producing a result.
	MaxAgentAttempts int

	// BasePrompt is the operator's base prompt text.
	BasePrompt string
}

// ControllerDeps contains the dependencies for the Controller.
type ControllerDeps struct {
	Tasks    taskstore.Store
	Git      git.Manager
	Limiter  Throttle
	Compiler ContextCompiler // nil disables context compilation
	Agent    agent.Runner
	Verifier verifier.Verifier
	Prompts  *prompt.Builder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller runs one task at a time.
type Controller struct {
	tasks    taskstore.Store
	git      git.Manager
	limiter  Throttle
	compiler ContextCompiler
	agent    agent.Runner
	verifier verifier.Verifier
	prompts  *prompt.Builder
	logger   *slog.Logger
	now      func() time.Time

	opts Options

	// sleep waits between agent retries; swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a run controller.
func NewController(deps ControllerDeps, opts Options) *Controller {
	c := &Controller{
		tasks:    deps.Tasks,
		git:      deps.Git,
		limiter:  deps.Limiter,
		compiler: deps.Compiler,
		agent:    deps.Agent,
		verifier: deps.Verifier,
		prompts:  deps.Prompts,
		logger:   deps.Logger,
		now:      deps.Now,
		opts:     opts,
		sleep:    ratelimit.Sleep,
	}
	if c.prompts == nil {
		c.prompts = prompt.NewBuilder(nil)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.opts.MaxAttempts <= 0 {
		c.opts.MaxAttempts = DefaultMaxAttempts
	}
	if c.opts.MaxAgentAttempts <= 0 {
		c.opts.MaxAgentAttempts = DefaultMaxAgentAttempts
	}
	if c.opts.BasePrompt == "" {
		c.opts.BasePrompt = prompt.DefaultBase
	}
	return c
}
