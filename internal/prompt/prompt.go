// Package prompt assembles the prompt handed to the agent for one run.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yarlson/lever/internal/taskstore"
)

// DefaultPath is the base prompt looked up in the workspace when none is given.
const DefaultPath = "prompts/autonomous-senior-engineer.prompt.md"

// DefaultBase is used when the workspace has no base prompt file.
const DefaultBase = `You are a coding agent working inside the lever harness.

## Your Role
You implement exactly one task, described below. The harness selects tasks,
manages git branches, runs verification and records the outcome.

## Rules
1. Implement ONLY the task described below. Do not work on other tasks.
2. Satisfy every item of the definition of done.
3. Run the project's tests and fix failures before reporting completion.
4. Do NOT commit, switch branches or stash. The harness owns git.
5. Do NOT edit the task file. Report progress through your final message.
6. Prefer minimal, surgical changes and follow existing conventions.

## Final message
Reply with a JSON object matching the output schema:
- outcome "completed" with dod_met true only when every item is done
- outcome "blocked" with blockers when you cannot proceed without a human
- outcome "started" when you made progress but the task is not finished`

// SizeOptions bounds the variable parts of the prompt.
type SizeOptions struct {
	// MaxContextBytes caps the compiled context section. Zero disables the cap.
	MaxContextBytes int
}

// DefaultSizeOptions returns the default limits.
func DefaultSizeOptions() SizeOptions {
	return SizeOptions{MaxContextBytes: 64 * 1024}
}

// Validate checks that all size options are non-negative.
func (o SizeOptions) Validate() error {
	if o.MaxContextBytes < 0 {
		return errors.New("max context bytes cannot be negative")
	}
	return nil
}

// Input is everything one prompt is built from.
type Input struct {
	// Base is the operator's base prompt text.
	Base string

	// Task is the task being run.
	Task *taskstore.Task

	// Snapshot is the task's JSON as written to the run directory.
	Snapshot string

	// Context is the compiled context document, empty when unavailable.
	Context string

	// ContextSource names where Context came from, for the section header.
	ContextSource string
}

// Builder builds run prompts.
type Builder struct {
	opts SizeOptions
}

// NewBuilder creates a new prompt builder with the given options.
// If opts is nil, default options are used.
func NewBuilder(opts *SizeOptions) *Builder {
	if opts == nil {
		defaultOpts := DefaultSizeOptions()
		opts = &defaultOpts
	}
	return &Builder{opts: *opts}
}

// Build renders the prompt: the base text, the task title, its definition of
// done and approach, compiled context when present, and the task JSON, which
// is authoritative when it disagrees with anything above it.
func (b *Builder) Build(in Input) (string, error) {
	if in.Task == nil {
		return "", errors.New("task is required")
	}

	var sb strings.Builder
	sb.WriteString(in.Base)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Task title: %s\n", in.Task.Title)

	sb.WriteString("\nDefinition of done:\n")
	for _, item := range in.Task.DefinitionOfDone {
		fmt.Fprintf(&sb, "  - %s\n", item)
	}

	sb.WriteString("\nRecommended approach:\n")
	sb.WriteString(in.Task.Approach())
	sb.WriteString("\n")

	if strings.TrimSpace(in.Context) != "" {
		header := "Compiled context"
		if in.ContextSource != "" {
			header += " (" + in.ContextSource + ")"
		}
		fmt.Fprintf(&sb, "\n%s:\n", header)
		sb.WriteString(truncateWithMarker(in.Context, b.opts.MaxContextBytes))
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nTask JSON (authoritative):\n")
	sb.WriteString(in.Snapshot)
	if !strings.HasSuffix(in.Snapshot, "\n") {
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// LoadBase reads the base prompt. An explicit path must exist; without one,
// the workspace default is used when present and DefaultBase otherwise.
func LoadBase(workspace, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(filepath.Join(workspace, DefaultPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultBase, nil
		}
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	return string(data), nil
}

// truncateWithMarker truncates a string to maxBytes and adds a marker if truncated.
// If maxBytes is 0, no truncation is performed.
func truncateWithMarker(s string, maxBytes int) string {
	if maxBytes == 0 || len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [truncated]\n"
}
