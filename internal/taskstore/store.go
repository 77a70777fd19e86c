package taskstore

import (
	"errors"
	"fmt"
)

// Error types for task file operations.
var (
	// ErrNotFound is returned when a task with the given ID does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrValidation is returned when a task fails validation.
	ErrValidation = errors.New("task validation failed")

	// ErrNoTaskFile is returned when no task file can be located.
	ErrNoTaskFile = errors.New("task file not found")
)

// NotFoundError wraps ErrNotFound with the task ID that was not found.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError wraps ErrValidation with details about the validation failure.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("task validation failed for %s: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("task validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Store defines the interface for task persistence and retrieval.
// Every call observes the task file as it currently exists on disk.
type Store interface {
	// List retrieves all tasks in file order.
	List() ([]*Task, error)

	// Get retrieves a task by its ID.
	// Returns NotFoundError if the task does not exist.
	Get(id string) (*Task, error)

	// Update applies fn to the task and persists status and observability.
	// Other fields of the record are left as they are on disk.
	// Returns NotFoundError if the task does not exist.
	Update(id string, fn func(*Task)) (*Task, error)
}
