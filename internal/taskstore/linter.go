package taskstore

import (
	"fmt"
	"strings"
)

// LintError represents a validation error for a specific task.
type LintError struct {
	TaskID string
	Error  string
}

// String returns a formatted string representation of the lint error.
func (e LintError) String() string {
	return fmt.Sprintf("%s: %s", e.TaskID, e.Error)
}

// LintWarning represents a non-fatal validation warning for a specific task.
type LintWarning struct {
	TaskID  string
	Warning string
}

// String returns a formatted string representation of the lint warning.
func (w LintWarning) String() string {
	return fmt.Sprintf("%s: %s", w.TaskID, w.Warning)
}

// LintResult contains the results of linting a task file.
type LintResult struct {
	Valid    bool
	Errors   []LintError
	Warnings []LintWarning
}

// Error returns an error if the lint result is invalid, or nil if valid.
func (r *LintResult) Error() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}

	var errMsgs []string
	for _, lintErr := range r.Errors {
		errMsgs = append(errMsgs, lintErr.String())
	}

	return fmt.Errorf("%d validation errors:\n%s", len(r.Errors), strings.Join(errMsgs, "\n"))
}

// LintTasks validates a whole task file. Human tasks are exempt from the
// model allow-list; an empty allow-list accepts any model.
// It checks for:
// - Duplicate task IDs
// - Unknown status values
// - Missing run metadata on non-completed tasks
// - Models outside the allow-list
func LintTasks(tasks []*Task, supportedModels []string) *LintResult {
	result := &LintResult{
		Valid:    true,
		Errors:   []LintError{},
		Warnings: []LintWarning{},
	}

	allowed := make(map[string]bool, len(supportedModels))
	for _, m := range supportedModels {
		allowed[m] = true
	}

	fail := func(id, msg string) {
		result.Valid = false
		result.Errors = append(result.Errors, LintError{TaskID: id, Error: msg})
	}

	seen := make(map[string]bool)
	for _, task := range tasks {
		if seen[task.ID] {
			fail(task.ID, "duplicate task_id")
		}
		seen[task.ID] = true

		if task.Status != "" && !task.Status.IsValid() {
			fail(task.ID, fmt.Sprintf("task status is invalid: %q", task.Status))
		}

		if task.IsCompleted() {
			continue
		}

		if err := task.ValidateMetadata(); err != nil {
			fail(task.ID, "missing required metadata: title, definition_of_done, recommended.approach")
		}

		switch {
		case task.RequiresHuman():
			result.Warnings = append(result.Warnings, LintWarning{
				TaskID:  task.ID,
				Warning: "requires a human; automated runs stop here",
			})
		case strings.TrimSpace(task.Model) == "":
			fail(task.ID, "model is required")
		case len(allowed) > 0 && !allowed[task.Model]:
			fail(task.ID, fmt.Sprintf("unsupported model %q", task.Model))
		}

		if task.Attempts() > 0 && task.EffectiveStatus() == StatusUnstarted {
			result.Warnings = append(result.Warnings, LintWarning{
				TaskID:  task.ID,
				Warning: fmt.Sprintf("unstarted but has %d recorded attempts", task.Attempts()),
			})
		}
	}

	return result
}
