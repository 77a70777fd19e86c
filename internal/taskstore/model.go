// Package taskstore provides task persistence and retrieval for the lever task file.
package taskstore

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Valid task status values.
const (
	StatusUnstarted TaskStatus = "unstarted"
	StatusStarted   TaskStatus = "started"
	StatusBlocked   TaskStatus = "blocked"
	StatusCompleted TaskStatus = "completed"
)

// validStatuses contains all valid status values for quick lookup.
var validStatuses = map[TaskStatus]bool{
	StatusUnstarted: true,
	StatusStarted:   true,
	StatusBlocked:   true,
	StatusCompleted: true,
}

// IsValid returns true if the status is a valid TaskStatus value.
func (s TaskStatus) IsValid() bool {
	return validStatuses[s]
}

// ModelHuman marks a task that must be performed by a person.
const ModelHuman = "human"

// TimestampLayout is the layout of Observability.LastUpdateUTC.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Task represents a unit of work in the task file.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"task_id"`

	// Title is the short summary of the task.
	Title string `json:"title"`

	// Status is the current state of the task. Empty means unstarted.
	Status TaskStatus `json:"status,omitempty"`

	// Model is the agent model identifier, or "human".
	Model string `json:"model"`

	// DefinitionOfDone lists the conditions the agent must satisfy.
	DefinitionOfDone []string `json:"definition_of_done"`

	// Recommended holds guidance for the agent. Only "approach" is allowed.
	Recommended map[string]any `json:"recommended"`

	// Verification optionally overrides verification auto-detection.
	Verification *Verification `json:"verification,omitempty"`

	// Observability tracks attempts and the last run that touched the task.
	Observability *Observability `json:"observability,omitempty"`
}

// Verification lists explicit verification commands.
type Verification struct {
	Commands []string `json:"commands,omitempty"`
}

// Observability is stamped on every status mutation. It is written with all
// four fields or not at all.
type Observability struct {
	RunAttempts   int    `json:"run_attempts"`
	LastNote      string `json:"last_note"`
	LastUpdateUTC string `json:"last_update_utc"`
	LastRunID     string `json:"last_run_id"`
}

// EffectiveStatus returns the task status, defaulting to unstarted.
func (t *Task) EffectiveStatus() TaskStatus {
	if t.Status == "" {
		return StatusUnstarted
	}
	return t.Status
}

// IsCompleted reports whether the task is done.
func (t *Task) IsCompleted() bool {
	return t.EffectiveStatus() == StatusCompleted
}

// RequiresHuman reports whether the task must be performed by a person.
func (t *Task) RequiresHuman() bool {
	return strings.TrimSpace(t.Model) == ModelHuman
}

// Approach returns recommended.approach, or "" when absent or not a string.
func (t *Task) Approach() string {
	approach, _ := t.Recommended["approach"].(string)
	return approach
}

// Attempts returns the number of agent runs recorded for the task.
func (t *Task) Attempts() int {
	if t.Observability == nil {
		return 0
	}
	return t.Observability.RunAttempts
}

// VerificationCommands returns the explicit verification commands, skipping blanks.
func (t *Task) VerificationCommands() []string {
	if t.Verification == nil {
		return nil
	}
	var cmds []string
	for _, c := range t.Verification.Commands {
		if strings.TrimSpace(c) != "" {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

// Stamp records the run id, note and timestamp in the observability block.
func (t *Task) Stamp(runID, note string, now time.Time) {
	if t.Observability == nil {
		t.Observability = &Observability{}
	}
	t.Observability.LastRunID = runID
	t.Observability.LastNote = note
	t.Observability.LastUpdateUTC = now.UTC().Format(TimestampLayout)
}

// IncrementAttempts bumps the attempt counter by one.
func (t *Task) IncrementAttempts() {
	if t.Observability == nil {
		t.Observability = &Observability{}
	}
	t.Observability.RunAttempts++
}

// ResetAttempts returns the task to unstarted with a zero attempt counter.
func (t *Task) ResetAttempts() {
	t.Status = StatusUnstarted
	if t.Observability == nil {
		t.Observability = &Observability{}
	}
	t.Observability.RunAttempts = 0
}

// ValidateMetadata checks the fields an agent run needs.
// Returns a ValidationError naming the task when anything is missing.
func (t *Task) ValidateMetadata() error {
	if strings.TrimSpace(t.Title) == "" || !validDefinitionOfDone(t.DefinitionOfDone) || !validRecommended(t.Recommended) {
		return &ValidationError{
			ID:     t.ID,
			Reason: "missing required metadata: title, definition_of_done, recommended.approach",
		}
	}
	return nil
}

func validDefinitionOfDone(items []string) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			return false
		}
	}
	return true
}

func validRecommended(rec map[string]any) bool {
	if len(rec) != 1 {
		return false
	}
	approach, ok := rec["approach"].(string)
	return ok && strings.TrimSpace(approach) != ""
}

// String returns a compact "id (status)" description.
func (t *Task) String() string {
	return fmt.Sprintf("%s (%s)", t.ID, t.EffectiveStatus())
}
