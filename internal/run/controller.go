package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yarlson/lever/internal/agent"
	"github.com/yarlson/lever/internal/contextpack"
	"github.com/yarlson/lever/internal/git"
	"github.com/yarlson/lever/internal/prompt"
	"github.com/yarlson/lever/internal/ratelimit"
	"github.com/yarlson/lever/internal/selector"
	"github.com/yarlson/lever/internal/state"
	"github.com/yarlson/lever/internal/taskstore"
	"github.com/yarlson/lever/internal/verifier"
)

// Execute performs one run and maps its outcome to an exit code. Failures
// before the run branch exists leave no trace; after that, every exit path
// stamps a note on the task and commits it to the run branch.
func (c *Controller) Execute(ctx context.Context, req Request) Result {
	if req.TaskID == "" && !req.Next {
		return c.configError("", "either a task id or --next is required")
	}
	if req.ResetTask && req.TaskID == "" {
		return c.configError("", "--reset-task requires an explicit task id")
	}

	tasks, err := c.tasks.List()
	if err != nil {
		return c.configError("", fmt.Sprintf("failed to load tasks: %v", err))
	}

	task, err := selector.Select(tasks, req.TaskID)
	if err != nil {
		return c.selectionResult(err)
	}

	c.logger.Info("task selected",
		"task_id", task.ID,
		"title", task.Title,
		"model", task.Model,
		"status", task.EffectiveStatus(),
		"dod_count", len(task.DefinitionOfDone))

	if err := task.ValidateMetadata(); err != nil {
		return c.configError(task.ID, err.Error())
	}
	if !c.modelAllowed(task.Model) {
		return c.configError(task.ID, fmt.Sprintf("Unsupported model in task %s: %s", task.ID, task.Model))
	}

	if ctx.Err() != nil {
		return Result{ExitCode: ExitInterrupted, TaskID: task.ID, Message: "interrupted before the run started"}
	}

	runID := state.NewRunID(c.opts.Workspace, task.ID, c.now())
	tx, err := git.Begin(ctx, c.git, git.TxOptions{
		TaskID:         task.ID,
		BaseBranch:     c.opts.BaseBranch,
		BranchPrefix:   c.opts.BranchPrefix,
		ExcludePattern: state.ExcludePattern,
		Logger:         c.logger,
		Now:            c.now,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{ExitCode: ExitInterrupted, TaskID: task.ID, RunID: runID, Message: "interrupted while preparing the run branch"}
		}
		c.logger.Error("git setup failed", "task_id", task.ID, "run_id", runID, "error", err)
		return Result{ExitCode: ExitInfra, TaskID: task.ID, RunID: runID, Message: err.Error()}
	}

	r := &runState{
		c:      c,
		tx:     tx,
		logger: c.logger.With("task_id", task.ID, "run_id", runID),
		taskID: task.ID,
		title:  task.Title,
		model:  task.Model,
		runID:  runID,
		paths:  state.NewRunPaths(c.opts.Workspace, task.ID, runID),
	}
	res := r.execute(ctx, req)

	report := tx.Restore(context.WithoutCancel(ctx))
	c.logger.Debug("workspace restored",
		"task_id", task.ID,
		"run_id", runID,
		"returned_to", report.ReturnedTo,
		"stash_restored", report.StashRestored)

	return res
}

func (c *Controller) configError(taskID, msg string) Result {
	c.logger.Error(msg, "task_id", taskID)
	return Result{ExitCode: ExitConfig, TaskID: taskID, Message: msg}
}

func (c *Controller) selectionResult(err error) Result {
	var human *selector.HumanRequiredError
	var ordering *selector.OrderingError
	switch {
	case errors.Is(err, selector.ErrNoRunnableTask):
		c.logger.Info("no runnable tasks")
		return Result{ExitCode: ExitNoTask, Message: "No runnable tasks."}
	case errors.As(err, &human):
		c.logger.Warn("task requires human", "task_id", human.TaskID)
		return Result{ExitCode: ExitHuman, TaskID: human.TaskID, Message: err.Error()}
	case errors.As(err, &ordering):
		c.logger.Warn("task is not first in line", "task_id", ordering.Requested, "blocking", ordering.Blocking)
		return Result{ExitCode: ExitOrdering, TaskID: ordering.Requested, Message: err.Error()}
	default:
		return c.configError("", err.Error())
	}
}

func (c *Controller) modelAllowed(model string) bool {
	if len(c.opts.Models) == 0 {
		return true
	}
	for _, m := range c.opts.Models {
		if m == model {
			return true
		}
	}
	return false
}

// runState carries one run from the moment its branch is checked out.
type runState struct {
	c      *Controller
	tx     *git.Transaction
	logger *slog.Logger

	taskID string
	title  string
	model  string
	runID  string
	paths  state.RunPaths

	attempts    int
	spawned     bool
	contextNote string
}

func (r *runState) execute(ctx context.Context, req Request) Result {
	if req.ResetTask {
		if err := r.update(ctx, func(t *taskstore.Task) { t.ResetAttempts() }, "Reset attempts via --reset-task"); err != nil {
			return r.infra(err)
		}
		r.logger.Info("task attempts reset")
	}

	// The run branch holds the authoritative counters for a retried task.
	task, err := r.c.tasks.Get(r.taskID)
	if err != nil {
		return r.infra(fmt.Errorf("failed to re-read task: %w", err))
	}
	r.attempts = task.Attempts()

	if limit := r.c.opts.MaxAttempts; r.attempts >= limit {
		note := fmt.Sprintf("Attempt limit reached (%d/%d). Use --reset-task after human intervention.", r.attempts, limit)
		if err := r.finish(ctx, taskstore.StatusBlocked, note); err != nil {
			return r.infra(err)
		}
		r.logger.Warn("attempt limit reached", "attempts", r.attempts)
		return r.result(ExitBlocked, fmt.Sprintf("Blocked: %s reached attempt limit (%d/%d).", r.taskID, r.attempts, limit))
	}

	if err := state.EnsureRunDir(r.paths); err != nil {
		return r.infra(err)
	}
	snapshot, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return r.infra(fmt.Errorf("failed to encode task snapshot: %w", err))
	}
	snapshot = append(snapshot, '\n')
	if err := os.WriteFile(r.paths.TaskSnapshot, snapshot, 0644); err != nil {
		return r.infra(fmt.Errorf("failed to write task snapshot: %w", err))
	}

	compiled, res, stop := r.compileContext(ctx, task)
	if stop {
		return res
	}

	if err := agent.EnsureSchema(state.SchemaPath(r.c.opts.Workspace)); err != nil {
		return r.infra(err)
	}
	text, err := r.c.prompts.Build(prompt.Input{
		Base:          r.c.opts.BasePrompt,
		Task:          task,
		Snapshot:      string(snapshot),
		Context:       compiled,
		ContextSource: r.paths.Rel(filepath.Join(r.paths.PackDir, "context.md")),
	})
	if err != nil {
		return r.infra(err)
	}
	if err := os.WriteFile(r.paths.Prompt, []byte(text), 0644); err != nil {
		return r.infra(fmt.Errorf("failed to write prompt: %w", err))
	}

	r.logger.Info("run started", "title", r.title, "attempt", r.attempts+1)

	estimate := ratelimit.EstimateTokens(len(text))
	if r.c.limiter != nil {
		if waited, err := r.c.limiter.Wait(ctx, r.model, estimate); err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx)
			}
			return r.infra(err)
		} else if waited > 0 {
			r.logger.Info("rate limit wait finished", "model", r.model, "waited", waited)
		}
	}
	if ctx.Err() != nil {
		return r.interrupted(ctx)
	}

	exitCode, err := r.invokeAgent(ctx)
	if r.spawned {
		r.recordUsage(estimate)
	}
	if ctx.Err() != nil || exitCode == ExitInterrupted {
		return r.interrupted(ctx)
	}
	if err != nil {
		if !r.spawned {
			note := fmt.Sprintf("Run %s could not start the agent: %v", r.runID, err)
			if uerr := r.update(ctx, nil, note); uerr != nil {
				r.logger.Error("failed to record agent start failure", "error", uerr)
			}
			r.logger.Error("agent did not start", "error", err)
			return r.result(ExitInfra, note)
		}
		return r.abort(ctx, err)
	}

	result, err := agent.ReadResult(r.paths.Result)
	if err != nil {
		note := fmt.Sprintf("Codex produced no result.json (exit=%d). See %s", exitCode, r.paths.Rel(r.paths.AgentLog))
		if !errors.Is(err, agent.ErrNoResult) {
			note = fmt.Sprintf("Codex produced an unreadable result.json (exit=%d): %v. See %s", exitCode, err, r.paths.Rel(r.paths.AgentLog))
		}
		if err := r.finish(ctx, taskstore.StatusBlocked, note); err != nil {
			return r.infra(err)
		}
		r.logger.Error("missing result", "exit", exitCode, "log", r.paths.Rel(r.paths.AgentLog))
		return r.result(ExitNoResult, "Blocked: "+note)
	}
	r.logResult(result)

	verifyOK := true
	if result.Completed() {
		report, err := r.c.verifier.Verify(ctx, verifier.Request{
			Commands: task.VerificationCommands(),
			LogPath:  r.paths.VerifyLog,
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx)
			}
			return r.abort(ctx, err)
		}
		verifyOK = report.Passed()
		r.logVerification(report)
	}

	tokens := fmt.Sprintf("reported_outcome=%s dod_met=%t verify_ok=%t", result.Outcome, result.DodMet, verifyOK)
	resultRel := r.paths.Rel(r.paths.Result)

	switch {
	case result.Completed() && verifyOK:
		if ctx.Err() != nil {
			return r.interrupted(ctx)
		}
		if err := r.finish(ctx, taskstore.StatusCompleted, fmt.Sprintf("Run %s completed. %s", r.runID, tokens)); err != nil {
			return r.infra(err)
		}
		if err := r.tx.Finalize(context.WithoutCancel(ctx), git.CommitSubject(r.title, r.taskID)); err != nil {
			r.logger.Error("finalize failed", "branch", r.tx.Branch(), "error", err)
			return r.result(ExitInfra, err.Error())
		}
		r.logger.Info("run completed", "verify_ok", verifyOK)
		return r.result(ExitCompleted, fmt.Sprintf("COMPLETED %s (model=%s, run=%s)", r.taskID, r.model, r.runID))

	case result.Outcome == agent.OutcomeBlocked:
		note := fmt.Sprintf("Run %s blocked. %s. See %s", r.runID, tokens, resultRel)
		if len(result.Blockers) > 0 {
			note += ". Blockers: " + agent.Compact(strings.Join(result.Blockers, "; "), SummaryLimit)
		}
		if err := r.finish(ctx, taskstore.StatusBlocked, note); err != nil {
			return r.infra(err)
		}
		r.logger.Warn("run reported blocked", "blockers", len(result.Blockers))
		return r.result(ExitBlocked, fmt.Sprintf("BLOCKED %s (model=%s, run=%s)", r.taskID, r.model, r.runID))

	default:
		note := fmt.Sprintf("Run %s progress. %s. See %s", r.runID, tokens, resultRel)
		if err := r.finish(ctx, taskstore.StatusStarted, note); err != nil {
			return r.infra(err)
		}
		r.logger.Info("run made progress", "outcome", result.Outcome, "dod_met", result.DodMet, "verify_ok", verifyOK)
		return r.result(ExitProgress, fmt.Sprintf("STARTED %s (model=%s, run=%s)", r.taskID, r.model, r.runID))
	}
}

// compileContext runs context compilation when it is enabled. It returns the
// compiled context and, when the run must stop, the result to return.
func (r *runState) compileContext(ctx context.Context, task *taskstore.Task) (string, Result, bool) {
	if r.c.compiler == nil {
		return "", Result{}, false
	}
	if ctx.Err() != nil {
		return "", r.interrupted(ctx), true
	}

	report, err := r.c.compiler.Compile(ctx, contextpack.CompileRequest{
		Workspace:   r.c.opts.Workspace,
		Task:        task,
		BriefPath:   r.paths.AssemblyTask,
		PackDir:     r.paths.PackDir,
		SummaryPath: r.paths.AssemblySummary,
		StdoutPath:  r.paths.AssemblyStdout,
		StderrPath:  r.paths.AssemblyStderr,
		ReportPath:  r.paths.ContextReport,
	})
	if err != nil {
		return "", r.interrupted(ctx), true
	}
	r.contextNote = report.Note()

	if report.Blocked() {
		note := fmt.Sprintf("Context compilation failed for run %s: %s. See stdout=%s stderr=%s",
			r.runID, report.Error, r.paths.Rel(r.paths.AssemblyStdout), r.paths.Rel(r.paths.AssemblyStderr))
		if err := r.update(ctx, nil, note); err != nil {
			return "", r.infra(err), true
		}
		return "", r.result(ExitContextFailed, "Blocked: "+note), true
	}

	compiled, err := report.Context()
	if err != nil {
		r.logger.Warn("compiled context unreadable; continuing without it", "error", err)
		return "", Result{}, false
	}
	return compiled, Result{}, false
}

// invokeAgent runs the agent, retrying while it leaves no result and its log
// carries a retry-after hint.
func (r *runState) invokeAgent(ctx context.Context) (int, error) {
	exitCode := 1
	limit := r.c.opts.MaxAgentAttempts
	for attempt := 1; attempt <= limit; attempt++ {
		r.logger.Info("agent start", "attempt", attempt, "model", r.model)
		resp, err := r.c.agent.Run(ctx, agent.Request{
			Workspace:  r.c.opts.Workspace,
			Model:      r.model,
			PromptPath: r.paths.Prompt,
			SchemaPath: state.SchemaPath(r.c.opts.Workspace),
			ResultPath: r.paths.Result,
			LogPath:    r.paths.AgentLog,
		})
		if err != nil {
			if !errors.Is(err, agent.ErrStart) {
				r.spawned = true
			}
			return exitCode, err
		}
		r.spawned = true
		exitCode = resp.ExitCode
		r.logger.Info("agent end", "attempt", attempt, "exit", exitCode, "duration", resp.Duration)

		if exitCode == ExitInterrupted || ctx.Err() != nil || agent.HasResult(r.paths.Result) {
			return exitCode, nil
		}

		logData, _ := os.ReadFile(r.paths.AgentLog)
		delay, ok := ratelimit.ParseRetryAfter(string(logData))
		if !ok || attempt == limit {
			break
		}
		r.logger.Warn("agent rate limited; retrying", "delay", delay, "retry", attempt, "max", limit)
		if err := r.c.sleep(ctx, delay); err != nil {
			return exitCode, err
		}
	}
	return exitCode, nil
}

func (r *runState) recordUsage(estimate int) {
	if r.c.limiter == nil {
		return
	}
	tokens, ok := agent.UsageFromLog(r.paths.AgentLog)
	if !ok {
		tokens = estimate
	}
	if err := r.c.limiter.Record(r.model, tokens); err != nil {
		r.logger.Warn("failed to record rate usage", "error", err)
	}
}

func (r *runState) logResult(res *agent.Result) {
	if summary := strings.TrimSpace(res.Summary); summary != "" {
		r.logger.Info("result summary: "+agent.Compact(summary, SummaryLimit),
			"outcome", res.Outcome,
			"dod_met", res.DodMet,
			"tests_ran", res.Tests.Ran,
			"tests_passed", res.Tests.Passed)
	}
	if !res.DodMet {
		msg := "definition of done not met"
		if notes := strings.TrimSpace(res.Notes); notes != "" {
			msg += ": " + agent.Compact(notes, SummaryLimit)
		}
		r.logger.Warn(msg, "outcome", res.Outcome)
	}
}

func (r *runState) logVerification(report *verifier.Report) {
	logRel := r.paths.Rel(r.paths.VerifyLog)
	switch {
	case !report.Ran():
		r.logger.Info("no verification commands found", "log", logRel)
	case report.Passed():
		last := report.Results[len(report.Results)-1]
		r.logger.Info("verification passed", "source", report.Source, "command", last.Command, "log", logRel)
	default:
		failed := report.Failed()
		r.logger.Warn("verification failed", "source", report.Source, "command", failed.Command, "exit", failed.ExitCode, "log", logRel)
	}
}

// update applies fn to the task, stamps the note and commits the task file
// to the run branch. Git work ignores cancellation so an interrupted run
// still leaves its record behind.
func (r *runState) update(ctx context.Context, fn func(*taskstore.Task), note string) error {
	if r.contextNote != "" {
		note += " " + r.contextNote
	}
	_, err := r.c.tasks.Update(r.taskID, func(t *taskstore.Task) {
		if fn != nil {
			fn(t)
		}
		t.Stamp(r.runID, note, r.c.now())
	})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", r.taskID, err)
	}
	if _, err := r.tx.CommitProgress(context.WithoutCancel(ctx), git.CommitSubject(r.title, r.taskID)); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	return nil
}

// finish sets the final status of the run. The attempt counter moves only
// when the agent was spawned.
func (r *runState) finish(ctx context.Context, status taskstore.TaskStatus, note string) error {
	return r.update(ctx, func(t *taskstore.Task) {
		t.Status = status
		if r.spawned {
			t.IncrementAttempts()
		}
	}, note)
}

func (r *runState) interrupted(ctx context.Context) Result {
	note := fmt.Sprintf("Run %s interrupted", r.runID)
	if r.spawned {
		note += fmt.Sprintf(" on attempt %d", r.attempts+1)
	}
	if err := r.finish(ctx, taskstore.StatusStarted, note); err != nil {
		r.logger.Error("failed to record interruption", "error", err)
	}
	r.logger.Warn("run interrupted", "agent_spawned", r.spawned)
	return r.result(ExitInterrupted, note)
}

// abort records an infrastructure failure after the agent ran, so the
// attempt it used is not lost.
func (r *runState) abort(ctx context.Context, cause error) Result {
	note := fmt.Sprintf("Run %s failed: %v", r.runID, cause)
	if err := r.finish(ctx, taskstore.StatusStarted, note); err != nil {
		r.logger.Error("failed to record run failure", "error", err)
	}
	return r.infra(cause)
}

func (r *runState) infra(err error) Result {
	r.logger.Error("run failed", "error", err)
	return r.result(ExitInfra, err.Error())
}

func (r *runState) result(code int, msg string) Result {
	return Result{ExitCode: code, TaskID: r.taskID, RunID: r.runID, Message: msg}
}
