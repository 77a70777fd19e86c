package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Outcome values the agent may report.
const (
	OutcomeCompleted = "completed"
	OutcomeBlocked   = "blocked"
	OutcomeStarted   = "started"
)

// ErrNoResult means the agent left no result file, or an empty one.
var ErrNoResult = errors.New("agent produced no result")

// Result is the structured final message the agent writes.
type Result struct {
	TaskID   string      `json:"task_id"`
	Outcome  string      `json:"outcome"`
	DodMet   bool        `json:"dod_met"`
	Summary  string      `json:"summary"`
	Tests    TestsReport `json:"tests"`
	Notes    string      `json:"notes"`
	Blockers []string    `json:"blockers"`
}

// TestsReport is what the agent says about the tests it ran.
type TestsReport struct {
	Ran      bool     `json:"ran"`
	Commands []string `json:"commands"`
	Passed   bool     `json:"passed"`
}

// Completed reports whether the agent claims the task is done.
func (r *Result) Completed() bool {
	return r.Outcome == OutcomeCompleted && r.DodMet
}

// ReadResult loads the agent's result file. A missing or empty file returns
// ErrNoResult.
func ReadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoResult
		}
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrNoResult
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", path, err)
	}
	return &res, nil
}

// HasResult reports whether a non-empty result file exists at path.
func HasResult(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// ResultSchema is the JSON schema handed to the agent for its final message.
const ResultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["task_id", "outcome", "dod_met", "summary", "tests", "notes", "blockers"],
  "properties": {
    "task_id": { "type": "string" },
    "outcome": { "type": "string", "enum": ["completed", "blocked", "started"] },
    "dod_met": { "type": "boolean" },
    "summary": { "type": "string" },
    "tests": {
      "type": "object",
      "additionalProperties": false,
      "required": ["ran", "commands", "passed"],
      "properties": {
        "ran": { "type": "boolean" },
        "commands": { "type": "array", "items": { "type": "string" } },
        "passed": { "type": "boolean" }
      }
    },
    "notes": { "type": "string" },
    "blockers": { "type": "array", "items": { "type": "string" } }
  }
}
`

// EnsureSchema writes ResultSchema to path unless a file is already there.
func EnsureSchema(path string) error {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(ResultSchema), 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	return nil
}

// Compact collapses whitespace and truncates s to at most limit runes, for
// one-line log fields.
func Compact(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
