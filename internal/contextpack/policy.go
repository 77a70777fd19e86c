// Package contextpack compiles a context pack for a task with an external
// pack builder and decides what a failed build means for the run.
package contextpack

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy decides whether a failed compilation blocks the run.
type Policy string

const (
	// BestEffort logs the failure and runs without compiled context.
	BestEffort Policy = "best-effort"
	// Required stops the run before the agent is invoked.
	Required Policy = "required"
)

// Defaults for the pack builder.
const (
	DefaultAssemblyPath = "assembly"
	DefaultTokenBudget  = 8000
)

// DefaultExclude keeps version control and run artifacts out of every pack.
var DefaultExclude = []string{".git/**", ".ralph/**"}

// RequiredPackFiles must all exist in the pack directory after a build.
var RequiredPackFiles = []string{
	"manifest.json",
	"index.json",
	"context.md",
	"policy.md",
	"lint.json",
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case BestEffort, Required:
		return Policy(s), nil
	case "":
		return BestEffort, nil
	default:
		return "", fmt.Errorf("invalid context policy %q (want %s or %s)", s, BestEffort, Required)
	}
}

// Options configures context compilation.
type Options struct {
	AssemblyPath   string
	Policy         Policy
	TokenBudget    int
	Exclude        []string
	ExcludeRuntime []string
}

// Validate checks the budget and every exclusion glob.
func (o Options) Validate() error {
	if _, err := ParsePolicy(string(o.Policy)); err != nil {
		return err
	}
	if o.TokenBudget <= 0 {
		return fmt.Errorf("context token budget must be positive, got %d", o.TokenBudget)
	}
	for _, globs := range [][]string{o.Exclude, o.ExcludeRuntime} {
		for _, g := range globs {
			if !doublestar.ValidatePattern(g) {
				return fmt.Errorf("invalid exclude pattern %q", g)
			}
		}
	}
	return nil
}
