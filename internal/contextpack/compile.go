package contextpack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yarlson/lever/internal/taskstore"
)

// Report status and policy outcome values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"

	OutcomeContinued = "continued"
	OutcomeBlocked   = "blocked"
)

// Report is written to context-compile.json for every attempted compilation.
type Report struct {
	Status          string   `json:"status"`
	Policy          Policy   `json:"policy"`
	PolicyOutcome   string   `json:"policy_outcome"`
	PackDir         string   `json:"pack_dir"`
	PackMissing     []string `json:"pack_missing"`
	BuilderExitCode *int     `json:"builder_exit_code,omitempty"`
	Error           string   `json:"error,omitempty"`

	packPath string
}

// OK reports whether the pack is complete and usable.
func (r *Report) OK() bool {
	return r.Status == StatusOK
}

// Blocked reports whether the failure must stop the run.
func (r *Report) Blocked() bool {
	return r.PolicyOutcome == OutcomeBlocked
}

// Note renders the report as key=value tokens for a task's last_note.
func (r *Report) Note() string {
	return fmt.Sprintf("context_compile=%s context_policy=%s context_outcome=%s context_pack=%s",
		r.Status, r.Policy, r.PolicyOutcome, r.PackDir)
}

// Context returns the compiled context document. It is empty unless the
// pack is usable.
func (r *Report) Context() (string, error) {
	if !r.OK() {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(r.packPath, "context.md"))
	if err != nil {
		return "", fmt.Errorf("failed to read compiled context: %w", err)
	}
	return string(data), nil
}

// CompileRequest names the task and the run files used by one compilation.
type CompileRequest struct {
	Workspace   string
	Task        *taskstore.Task
	BriefPath   string
	PackDir     string
	SummaryPath string
	StdoutPath  string
	StderrPath  string
	ReportPath  string
}

// Compiler builds packs and applies the failure policy.
type Compiler struct {
	builder Builder
	opts    Options
	logger  *slog.Logger
}

// NewCompiler creates a Compiler. A nil logger discards.
func NewCompiler(builder Builder, opts Options, logger *slog.Logger) *Compiler {
	if opts.Policy == "" {
		opts.Policy = BestEffort
	}
	if opts.TokenBudget == 0 {
		opts.TokenBudget = DefaultTokenBudget
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compiler{builder: builder, opts: opts, logger: logger}
}

// Policy returns the configured failure policy.
func (c *Compiler) Policy() Policy {
	return c.opts.Policy
}

// Compile builds the pack, checks the required files and writes the report.
// The only error returned is cancellation; every other failure is recorded
// in the report and resolved by the policy.
func (c *Compiler) Compile(ctx context.Context, req CompileRequest) (*Report, error) {
	report := &Report{
		Status:      StatusOK,
		Policy:      c.opts.Policy,
		PackDir:     relPath(req.Workspace, req.PackDir),
		PackMissing: []string{},
		packPath:    req.PackDir,
	}

	if err := c.build(ctx, req, report); err != nil {
		return nil, err
	}

	report.PackMissing = MissingFiles(req.PackDir)
	if report.Status == StatusOK && len(report.PackMissing) > 0 {
		report.Status = StatusFailed
		report.Error = "pack is missing required files: " + strings.Join(report.PackMissing, ", ")
	}

	report.PolicyOutcome = OutcomeContinued
	if report.Status == StatusFailed && c.opts.Policy == Required {
		report.PolicyOutcome = OutcomeBlocked
	}

	if err := writeReport(req.ReportPath, report); err != nil {
		c.logger.Warn("failed to write context compile report", "path", req.ReportPath, "error", err)
	}

	attrs := []any{
		"task_id", req.Task.ID,
		"policy", report.Policy,
		"outcome", report.PolicyOutcome,
		"pack", report.PackDir,
		"stdout", relPath(req.Workspace, req.StdoutPath),
		"stderr", relPath(req.Workspace, req.StderrPath),
	}
	switch {
	case report.OK():
		c.logger.Info("context pack compiled", attrs...)
	case report.Blocked():
		c.logger.Error("context compilation failed", append(attrs, "error", report.Error)...)
	default:
		c.logger.Warn("context compilation failed; continuing without compiled context", append(attrs, "error", report.Error)...)
	}

	return report, nil
}

func (c *Compiler) build(ctx context.Context, req CompileRequest, report *Report) error {
	fail := func(msg string) {
		report.Status = StatusFailed
		report.Error = msg
	}

	if err := WriteBrief(req.BriefPath, req.Task); err != nil {
		fail(err.Error())
		return nil
	}
	if err := os.MkdirAll(req.PackDir, 0755); err != nil {
		fail(fmt.Sprintf("failed to create pack directory: %v", err))
		return nil
	}

	res, err := c.builder.Build(ctx, BuildRequest{
		Workspace:      req.Workspace,
		TaskID:         req.Task.ID,
		BriefPath:      req.BriefPath,
		OutDir:         req.PackDir,
		SummaryPath:    req.SummaryPath,
		StdoutPath:     req.StdoutPath,
		StderrPath:     req.StderrPath,
		TokenBudget:    c.opts.TokenBudget,
		Exclude:        c.opts.Exclude,
		ExcludeRuntime: c.opts.ExcludeRuntime,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		fail(err.Error())
		return nil
	}
	if res.ExitCode != 0 {
		code := res.ExitCode
		report.BuilderExitCode = &code
		fail(fmt.Sprintf("pack builder exited with status %d", code))
		return nil
	}
	zero := 0
	report.BuilderExitCode = &zero
	return nil
}

// MissingFiles lists the required pack files absent from dir.
func MissingFiles(dir string) []string {
	missing := []string{}
	for _, name := range RequiredPackFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			missing = append(missing, name)
		}
	}
	return missing
}

func writeReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func relPath(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
