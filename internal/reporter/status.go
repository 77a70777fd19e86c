// Package reporter renders the state of the task file for the status command.
package reporter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yarlson/lever/internal/loop"
	"github.com/yarlson/lever/internal/selector"
	"github.com/yarlson/lever/internal/taskstore"
)

// TaskCounts holds the count of tasks in each status.
type TaskCounts struct {
	Total     int
	Unstarted int
	Started   int
	Blocked   int
	Completed int
}

// Percent returns the share of completed tasks, 0 to 100.
func (c TaskCounts) Percent() int {
	if c.Total == 0 {
		return 0
	}
	return c.Completed * 100 / c.Total
}

// TaskRow is one line of the task table.
type TaskRow struct {
	ID       string
	Title    string
	Model    string
	Status   taskstore.TaskStatus
	Attempts int
	LastNote string
	LastRun  string
}

// Status contains everything the status command shows.
type Status struct {
	// TasksPath is the task file the status was read from.
	TasksPath string

	// Counts holds the task counts by status.
	Counts TaskCounts

	// Next is the head of the line, if any.
	Next *taskstore.Task

	// NextBlocker explains why Next cannot run unattended.
	NextBlocker string

	// Tasks lists every task in file order.
	Tasks []TaskRow

	// LastCycle is the most recent loop cycle record, if any.
	LastCycle *loop.CycleRecord
}

// StatusGenerator generates status information for a task file.
type StatusGenerator struct {
	taskStore taskstore.Store
	tasksPath string
	loopDir   string
}

// NewStatusGenerator creates a new status generator. loopDir may be empty.
func NewStatusGenerator(store taskstore.Store, tasksPath, loopDir string) *StatusGenerator {
	return &StatusGenerator{
		taskStore: store,
		tasksPath: tasksPath,
		loopDir:   loopDir,
	}
}

// GetStatus reads the task file and the loop records.
func (g *StatusGenerator) GetStatus() (*Status, error) {
	tasks, err := g.taskStore.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	status := &Status{TasksPath: g.tasksPath}

	status.Counts.Total = len(tasks)
	for _, t := range tasks {
		switch t.EffectiveStatus() {
		case taskstore.StatusCompleted:
			status.Counts.Completed++
		case taskstore.StatusBlocked:
			status.Counts.Blocked++
		case taskstore.StatusStarted:
			status.Counts.Started++
		default:
			status.Counts.Unstarted++
		}

		row := TaskRow{
			ID:       t.ID,
			Title:    t.Title,
			Model:    t.Model,
			Status:   t.EffectiveStatus(),
			Attempts: t.Attempts(),
		}
		if t.Observability != nil {
			row.LastNote = t.Observability.LastNote
			row.LastRun = t.Observability.LastRunID
		}
		status.Tasks = append(status.Tasks, row)
	}

	status.Next = selector.Next(tasks)
	if status.Next != nil {
		if _, err := selector.Select(tasks, ""); err != nil {
			var human *selector.HumanRequiredError
			if errors.As(err, &human) {
				status.NextBlocker = "requires a human"
			} else {
				status.NextBlocker = err.Error()
			}
		} else if err := status.Next.ValidateMetadata(); err != nil {
			status.NextBlocker = err.Error()
		}
	}

	if g.loopDir != "" {
		records, err := loop.LoadRecords(g.loopDir)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			status.LastCycle = records[len(records)-1]
		}
	}

	return status, nil
}

// FormatStatus formats a status for CLI display.
func FormatStatus(status *Status) string {
	var sb strings.Builder

	sb.WriteString("## Status\n\n")
	if status.TasksPath != "" {
		_, _ = fmt.Fprintf(&sb, "Tasks: %s\n\n", status.TasksPath)
	}

	sb.WriteString("### Task Counts\n")
	_, _ = fmt.Fprintf(&sb, "Progress: %s %d%%\n", ProgressBar(status.Counts.Percent(), 20), status.Counts.Percent())
	_, _ = fmt.Fprintf(&sb, "Total: %d\n", status.Counts.Total)
	_, _ = fmt.Fprintf(&sb, "Completed: %d\n", status.Counts.Completed)
	_, _ = fmt.Fprintf(&sb, "Started: %d\n", status.Counts.Started)
	_, _ = fmt.Fprintf(&sb, "Blocked: %d\n", status.Counts.Blocked)
	_, _ = fmt.Fprintf(&sb, "Unstarted: %d\n", status.Counts.Unstarted)
	sb.WriteString("\n")

	sb.WriteString("### Next Task\n")
	if status.Next != nil {
		_, _ = fmt.Fprintf(&sb, "Next Task: %s (%s)\n", status.Next.ID, status.Next.Title)
		if status.NextBlocker != "" {
			_, _ = fmt.Fprintf(&sb, "Cannot run: %s\n", status.NextBlocker)
		}
	} else {
		sb.WriteString("Next Task: none\n")
	}
	sb.WriteString("\n")

	if len(status.Tasks) > 0 {
		sb.WriteString("### Tasks\n")
		for _, row := range status.Tasks {
			_, _ = fmt.Fprintf(&sb, "- %s [%s] attempts=%d model=%s", row.ID, row.Status, row.Attempts, row.Model)
			if row.Title != "" {
				_, _ = fmt.Fprintf(&sb, " %q", row.Title)
			}
			sb.WriteString("\n")
			if row.LastNote != "" {
				_, _ = fmt.Fprintf(&sb, "  last: %s\n", row.LastNote)
			}
		}
		sb.WriteString("\n")
	}

	if c := status.LastCycle; c != nil {
		sb.WriteString("### Last Cycle\n")
		_, _ = fmt.Fprintf(&sb, "ID: %s\n", c.CycleID)
		if c.TaskID != "" {
			_, _ = fmt.Fprintf(&sb, "Task: %s\n", c.TaskID)
		}
		if c.RunID != "" {
			_, _ = fmt.Fprintf(&sb, "Run: %s\n", c.RunID)
		}
		_, _ = fmt.Fprintf(&sb, "Exit: %d (%s)\n", c.ExitCode, c.Decision)
		if !c.EndTime.IsZero() {
			_, _ = fmt.Fprintf(&sb, "Finished: %s\n", c.EndTime.Format(time.RFC3339))
		}
	}

	return sb.String()
}
