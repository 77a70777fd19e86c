// Package git provides the git operations behind a run transaction: isolating
// a run on its own branch, stashing and restoring local changes, and squashing
// a finished run into the base branch.
package git

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common Git failures.
var (
	// ErrNotAGitRepo indicates the directory is not a git repository.
	ErrNotAGitRepo = errors.New("not a git repository")

	// ErrNoCommits indicates the repository has no commits yet.
	ErrNoCommits = errors.New("repository has no commits")

	// ErrNoChanges indicates there are no changes to commit.
	ErrNoChanges = errors.New("no changes to commit")

	// ErrCommitFailed indicates the commit operation failed.
	ErrCommitFailed = errors.New("commit failed")

	// ErrStashNotFound indicates a stash with the expected message is missing.
	ErrStashNotFound = errors.New("stash not found")

	// ErrRebaseFailed indicates the run branch could not be rebased onto the base.
	ErrRebaseFailed = errors.New("rebase failed")
)

// GitError represents a Git command error with additional context.
type GitError struct {
	// Command is the git command that failed.
	Command string
	// Output is the stderr/stdout output from the command.
	Output string
	// Err is the underlying error (typically a sentinel error).
	Err error
}

// Error returns a formatted error message.
func (e *GitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git command %q failed: %s", e.Command, e.Output)
	}
	return fmt.Sprintf("git command %q failed", e.Command)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *GitError) Unwrap() error {
	return e.Err
}

// DetachedHead is what GetCurrentBranch reports when HEAD is detached.
const DetachedHead = "HEAD"

// Manager defines the git operations a run transaction needs.
type Manager interface {
	// GetCurrentBranch returns the name of the current branch, or DetachedHead.
	GetCurrentBranch(ctx context.Context) (string, error)

	// GetCurrentCommit returns the current HEAD commit hash.
	GetCurrentCommit(ctx context.Context) (string, error)

	// HasChanges returns true if there are uncommitted changes in the working tree.
	// This includes staged changes, unstaged changes, and untracked files.
	HasChanges(ctx context.Context) (bool, error)

	// GetDirtyFiles returns the sorted set of modified, staged and untracked paths.
	GetDirtyFiles(ctx context.Context) ([]string, error)

	// Stash stashes all local changes, untracked files included, under message
	// and returns the stash reference.
	Stash(ctx context.Context, message string) (string, error)

	// FindStash returns the reference of the stash whose subject contains message.
	// Returns ErrStashNotFound when there is none.
	FindStash(ctx context.Context, message string) (string, error)

	// ApplyStash applies the stash without dropping it.
	ApplyStash(ctx context.Context, ref string) error

	// DropStash removes the stash.
	DropStash(ctx context.Context, ref string) error

	// Checkout switches to an existing branch.
	Checkout(ctx context.Context, branch string) error

	// CheckoutDetached detaches HEAD at commit.
	CheckoutDetached(ctx context.Context, commit string) error

	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, branch string) (bool, error)

	// EnsureBranch switches to base, then to branch, creating branch off base
	// when it does not exist yet.
	EnsureBranch(ctx context.Context, branch, base string) error

	// ChangedBetween lists the paths that differ between two commits.
	ChangedBetween(ctx context.Context, from, to string) ([]string, error)

	// Commit stages all changes, commits them and returns the commit hash.
	// Returns ErrNoChanges if there are no changes to commit.
	Commit(ctx context.Context, message string) (string, error)

	// SquashMerge squashes branch into a single commit on top of base and
	// fast-forwards base to it. base is checked out afterwards.
	SquashMerge(ctx context.Context, branch, base, message string) error

	// DeleteBranch force-deletes a local branch.
	DeleteBranch(ctx context.Context, branch string) error

	// ExcludePath adds pattern to the repository's local exclude file.
	ExcludePath(ctx context.Context, pattern string) error
}
