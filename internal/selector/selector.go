// Package selector decides which task runs next. File order is the only
// ordering signal: the first task that is not completed is at the head of
// the line and nothing behind it may start.
package selector

import (
	"errors"
	"fmt"

	"github.com/yarlson/lever/internal/taskstore"
)

var (
	// ErrNoRunnableTask is returned when every task is completed.
	ErrNoRunnableTask = errors.New("no runnable task found")

	// ErrHumanRequired is returned when the head of the line needs a person.
	ErrHumanRequired = errors.New("task requires human")

	// ErrOrdering is returned when an explicit task is not first in line.
	ErrOrdering = errors.New("task is not first in line")
)

// HumanRequiredError names the task that needs a person.
type HumanRequiredError struct {
	TaskID string
}

func (e *HumanRequiredError) Error() string {
	return fmt.Sprintf("Task requires human: %s", e.TaskID)
}

func (e *HumanRequiredError) Unwrap() error {
	return ErrHumanRequired
}

// OrderingError names the requested task and the task blocking it.
type OrderingError struct {
	Requested string
	Blocking  string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("Task %s cannot start until %s is completed.", e.Requested, e.Blocking)
}

func (e *OrderingError) Unwrap() error {
	return ErrOrdering
}

// Next returns the first task that is not completed, or nil.
func Next(tasks []*taskstore.Task) *taskstore.Task {
	for _, t := range tasks {
		if !t.IsCompleted() {
			return t
		}
	}
	return nil
}

// Select returns the task to run. When requestedID is empty the head of the
// line is returned; otherwise requestedID must be the head of the line.
//
// A human task at the head of the line is never skipped, even when another
// task was requested explicitly.
func Select(tasks []*taskstore.Task, requestedID string) (*taskstore.Task, error) {
	head := Next(tasks)
	if head == nil {
		return nil, ErrNoRunnableTask
	}

	if head.RequiresHuman() {
		return nil, &HumanRequiredError{TaskID: head.ID}
	}

	if requestedID != "" && requestedID != head.ID {
		return nil, &OrderingError{Requested: requestedID, Blocking: head.ID}
	}

	return head, nil
}
