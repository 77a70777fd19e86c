package loop

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/yarlson/lever/internal/ratelimit"
	"github.com/yarlson/lever/internal/run"
)

// Executor performs one run.
type Executor interface {
	Execute(ctx context.Context, req run.Request) run.Result
}

// Options control how many cycles run and how far apart.
type Options struct {
	// Count is nil for a single run, 0 for no cap, and n for at most n cycles.
	Count *int

	// Delay is the pause between non-terminal cycles.
	Delay time.Duration
}

// Looping reports whether more than one cycle may run.
func (o Options) Looping() bool {
	return o.Count != nil
}

// Result contains the outcome of a loop.
type Result struct {
	// Decision is why the loop stopped. A single run that continued reports
	// Continue.
	Decision Decision

	// Cycles is the number of runs executed.
	Cycles int

	// LastExit is the exit code of the last run.
	LastExit int

	// ExitCode is the process exit code for the loop.
	ExitCode int

	// Records holds one record per executed cycle.
	Records []*CycleRecord
}

// ControllerDeps contains the dependencies for the Controller.
type ControllerDeps struct {
	Runs   Executor
	Logger *slog.Logger
	// RecordsDir receives one JSON record per cycle. Empty disables records.
	RecordsDir string
	Now        func() time.Time
}

// Controller chains runs until a terminal decision or the cycle cap.
type Controller struct {
	runs       Executor
	logger     *slog.Logger
	recordsDir string
	now        func() time.Time
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a new loop controller with the given dependencies.
func NewController(deps ControllerDeps, opts Options) *Controller {
	c := &Controller{
		runs:       deps.Runs,
		logger:     deps.Logger,
		recordsDir: deps.RecordsDir,
		now:        deps.Now,
		opts:       opts,
		sleep:      ratelimit.Sleep,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Run executes cycles for req. Only the first cycle honours req.ResetTask.
func (c *Controller) Run(ctx context.Context, req run.Request) Result {
	if !c.opts.Looping() {
		return c.runOnce(ctx, req)
	}

	result := Result{}
	limit := *c.opts.Count

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			c.logger.Warn("interrupt received before cycle start", "cycle", cycle)
			return c.stop(result, StopInterrupted)
		}

		c.logger.Info("cycle started", "cycle", cycle)
		res, d := c.cycle(ctx, cycle, req, &result)
		req.ResetTask = false

		switch d {
		case Continue:
			if res.ExitCode == run.ExitCompleted {
				c.logger.Info("cycle completed", "cycle", cycle, "task_id", res.TaskID)
			} else {
				c.logger.Warn("run ended without finishing the task; continuing",
					"cycle", cycle, "task_id", res.TaskID, "exit", res.ExitCode)
			}
		case StopClean:
			c.logger.Info("no runnable tasks; stopping", "cycle", cycle)
			return c.stop(result, d)
		case StopHuman:
			c.logger.Warn("task requires human; stopping", "cycle", cycle, "task_id", res.TaskID)
			return c.stop(result, d)
		case StopDependency:
			c.logger.Warn("task ordering conflict; stopping", "cycle", cycle, "task_id", res.TaskID, "message", res.Message)
			return c.stop(result, d)
		case StopBlocked:
			c.logger.Warn("task blocked; stopping", "cycle", cycle, "task_id", res.TaskID, "exit", res.ExitCode)
			return c.stop(result, d)
		case StopInterrupted:
			c.logger.Warn("interrupted during cycle", "cycle", cycle, "task_id", res.TaskID)
			return c.stop(result, d)
		default:
			c.logger.Error("run failed; stopping", "cycle", cycle, "task_id", res.TaskID, "exit", res.ExitCode, "message", res.Message)
			return c.stop(result, d)
		}

		if limit > 0 && cycle >= limit {
			c.logger.Info("loop limit reached", "limit", limit)
			return c.stop(result, StopLimit)
		}

		if c.opts.Delay > 0 {
			c.logger.Debug("sleeping before next cycle", "delay", c.opts.Delay)
			if err := c.sleep(ctx, c.opts.Delay); err != nil {
				c.logger.Warn("interrupt received during delay", "cycle", cycle)
				return c.stop(result, StopInterrupted)
			}
		}
	}
}

// runOnce executes a single run. The process exit code is the run's own.
func (c *Controller) runOnce(ctx context.Context, req run.Request) Result {
	result := Result{}
	if ctx.Err() != nil {
		result.Decision = StopInterrupted
		result.LastExit = run.ExitInterrupted
		result.ExitCode = run.ExitInterrupted
		return result
	}

	res, d := c.cycle(ctx, 1, req, &result)
	result.Decision = d
	result.ExitCode = res.ExitCode
	return result
}

// cycle executes one run and records it.
func (c *Controller) cycle(ctx context.Context, n int, req run.Request, result *Result) (run.Result, Decision) {
	record := NewCycleRecord(n, c.now())
	res := c.runs.Execute(ctx, req)

	d := Interpret(res.ExitCode)
	if d == Continue && ctx.Err() != nil {
		d = StopInterrupted
	}

	record.Complete(res, d, c.now())
	result.Cycles++
	result.LastExit = res.ExitCode
	result.Records = append(result.Records, record)

	if c.recordsDir != "" {
		if _, err := SaveRecord(c.recordsDir, record); err != nil {
			c.logger.Warn("failed to save cycle record", "cycle", n, "error", err)
		}
	}
	return res, d
}

func (c *Controller) stop(result Result, d Decision) Result {
	result.Decision = d
	result.ExitCode = ProcessExit(d, result.LastExit)
	return result
}
