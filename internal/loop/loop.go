// Package loop chains runs and decides after each one whether to go on.
package loop

import (
	"github.com/yarlson/lever/internal/run"
)

// Decision is what the loop does with a run's exit code.
type Decision string

const (
	// Continue starts the next cycle.
	Continue Decision = "continue"
	// StopClean ends the loop because nothing is left to run.
	StopClean Decision = "no_tasks"
	// StopLimit ends the loop because the cycle cap was reached.
	StopLimit Decision = "limit"
	// StopHuman ends the loop at a task a human must do.
	StopHuman Decision = "human"
	// StopDependency ends the loop on an ordering conflict.
	StopDependency Decision = "dependency"
	// StopBlocked ends the loop at a blocked task.
	StopBlocked Decision = "blocked"
	// StopInterrupted ends the loop after an interrupt.
	StopInterrupted Decision = "interrupted"
	// StopFailure ends the loop on a hard failure.
	StopFailure Decision = "failure"
)

// Terminal reports whether the decision ends the loop.
func (d Decision) Terminal() bool {
	return d != Continue
}

// Interpret maps a run exit code to a decision.
func Interpret(code int) Decision {
	switch {
	case code == run.ExitCompleted:
		return Continue
	case code == run.ExitNoTask:
		return StopClean
	case code == run.ExitHuman:
		return StopHuman
	case code == 5 || code == run.ExitOrdering:
		return StopDependency
	case code == run.ExitNoResult || code == run.ExitBlocked || code == run.ExitContextFailed:
		return StopBlocked
	case code == run.ExitInterrupted:
		return StopInterrupted
	case code < 10:
		return StopFailure
	default:
		// 12 and anything above 13 leave the task in a state a later cycle
		// can pick up.
		return Continue
	}
}

// ProcessExit returns the process exit code for a loop that stopped with
// decision after a run exited with lastCode.
func ProcessExit(d Decision, lastCode int) int {
	switch d {
	case StopClean, StopLimit, Continue:
		return 0
	case StopHuman, StopDependency, StopBlocked:
		return 1
	case StopInterrupted:
		return run.ExitInterrupted
	default:
		if lastCode == 0 {
			return 1
		}
		return lastCode
	}
}
