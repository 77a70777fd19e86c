// Package state lays out the .ralph directory: run artifacts, the rate ledger
// and the agent output schema.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Names inside the .ralph directory.
const (
	RalphDir      = ".ralph"
	RunsDir       = "runs"
	LoopDir       = "loop"
	RateLimitFile = "rate_limit.json"
	SchemaFile    = "task_result.schema.json"
)

// Names inside a run directory.
const (
	TaskSnapshotFile    = "task.json"
	PromptFile          = "prompt.md"
	AgentLogFile        = "codex.jsonl"
	ResultFile          = "result.json"
	VerifyLogFile       = "verify.log"
	PackDirName         = "pack"
	AssemblyTaskFile    = "assembly-task.json"
	AssemblySummaryFile = "assembly-summary.json"
	AssemblyStdoutFile  = "assembly.stdout.log"
	AssemblyStderrFile  = "assembly.stderr.log"
	ContextReportFile   = "context-compile.json"
)

// RunIDLayout is the UTC timestamp part of a run id.
const RunIDLayout = "20060102T150405Z"

// ExcludePattern keeps the .ralph directory out of git.
const ExcludePattern = RalphDir + "/"

// RalphDirPath returns the path to the .ralph directory.
func RalphDirPath(root string) string {
	return filepath.Join(root, RalphDir)
}

// RunsDirPath returns the directory holding every task's runs.
func RunsDirPath(root string) string {
	return filepath.Join(root, RalphDir, RunsDir)
}

// LoopDirPath returns the directory holding loop cycle records.
func LoopDirPath(root string) string {
	return filepath.Join(root, RalphDir, LoopDir)
}

// RateLimitPath returns the rate ledger path.
func RateLimitPath(root string) string {
	return filepath.Join(root, RalphDir, RateLimitFile)
}

// SchemaPath returns the agent output schema path.
func SchemaPath(root string) string {
	return filepath.Join(root, RalphDir, SchemaFile)
}

// RunPaths holds every artifact path of one run.
type RunPaths struct {
	Root string
	Dir  string

	TaskSnapshot string
	Prompt       string
	AgentLog     string
	Result       string
	VerifyLog    string

	PackDir         string
	AssemblyTask    string
	AssemblySummary string
	AssemblyStdout  string
	AssemblyStderr  string
	ContextReport   string
}

// NewRunPaths returns the paths of run runID of task taskID under root.
func NewRunPaths(root, taskID, runID string) RunPaths {
	dir := filepath.Join(RunsDirPath(root), taskID, runID)
	return RunPaths{
		Root:            root,
		Dir:             dir,
		TaskSnapshot:    filepath.Join(dir, TaskSnapshotFile),
		Prompt:          filepath.Join(dir, PromptFile),
		AgentLog:        filepath.Join(dir, AgentLogFile),
		Result:          filepath.Join(dir, ResultFile),
		VerifyLog:       filepath.Join(dir, VerifyLogFile),
		PackDir:         filepath.Join(dir, PackDirName),
		AssemblyTask:    filepath.Join(dir, AssemblyTaskFile),
		AssemblySummary: filepath.Join(dir, AssemblySummaryFile),
		AssemblyStdout:  filepath.Join(dir, AssemblyStdoutFile),
		AssemblyStderr:  filepath.Join(dir, AssemblyStderrFile),
		ContextReport:   filepath.Join(dir, ContextReportFile),
	}
}

// Rel returns path relative to the workspace root, with forward slashes,
// for notes and log lines.
func (p RunPaths) Rel(path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// EnsureRunDir creates the run directory. It fails if the directory already
// exists, since a run is never reused.
func EnsureRunDir(p RunPaths) error {
	if err := os.MkdirAll(filepath.Dir(p.Dir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(p.Dir), err)
	}
	if err := os.Mkdir(p.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory %s: %w", p.Dir, err)
	}
	return nil
}

// NewRunID returns "<UTC timestamp>-<pid>", with a short random suffix when a
// run with that id already exists for the task.
func NewRunID(root, taskID string, now time.Time) string {
	id := fmt.Sprintf("%s-%d", now.UTC().Format(RunIDLayout), os.Getpid())
	if _, err := os.Stat(filepath.Join(RunsDirPath(root), taskID, id)); err == nil {
		id += "-" + uuid.New().String()[:8]
	}
	return id
}
