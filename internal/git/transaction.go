package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StashLabel prefixes the message of every auto-stash so they can be found
// with `git stash list`.
const StashLabel = "lever(run): auto-stash"

// TxOptions configures a run transaction.
type TxOptions struct {
	// TaskID names the run branch.
	TaskID string

	// BaseBranch is where the run branch is created from and merged into.
	BaseBranch string

	// BranchPrefix is prepended to TaskID to form the run branch name.
	BranchPrefix string

	// ExcludePattern, when set, is added to the repository's local exclude
	// file before anything is stashed.
	ExcludePattern string

	// Logger receives restore warnings. Nil discards.
	Logger *slog.Logger

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Transaction isolates one run on its own branch. Begin records where the
// caller was and stashes local changes; Finalize squashes the run into the
// base branch; Restore puts the caller back and re-applies the stash.
type Transaction struct {
	mgr    Manager
	opts   TxOptions
	logger *slog.Logger

	origBranch string
	origHead   string
	branch     string

	dirty        []string
	stashMessage string
	stashRef     string

	finalized bool
	restored  bool
}

// RestoreReport describes what Restore did. Problems are reported as
// warnings, never as errors.
type RestoreReport struct {
	// ReturnedTo is the branch (or commit, when detached) checked out again.
	ReturnedTo string

	// StashRestored is true when the auto-stash was applied and dropped.
	StashRestored bool

	// StashKept is the stash reference left in place, if any.
	StashKept string

	// Warnings lists every problem encountered.
	Warnings []string
}

// Begin records the caller's branch and HEAD, stashes local changes when the
// tree is dirty, and checks out the run branch. If setup fails after the
// stash was pushed, the caller's branch and stash are restored before the
// error is returned, even when ctx is already cancelled.
func Begin(ctx context.Context, mgr Manager, opts TxOptions) (*Transaction, error) {
	if opts.TaskID == "" {
		return nil, errors.New("transaction requires a task id")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tx := &Transaction{
		mgr:    mgr,
		opts:   opts,
		logger: opts.Logger,
		branch: opts.BranchPrefix + opts.TaskID,
	}
	if tx.logger == nil {
		tx.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.ExcludePattern != "" {
		if err := mgr.ExcludePath(ctx, opts.ExcludePattern); err != nil {
			tx.logger.Warn("failed to exclude path from git", "pattern", opts.ExcludePattern, "error", err)
		}
	}

	branch, err := mgr.GetCurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current branch: %w", err)
	}
	head, err := mgr.GetCurrentCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current commit: %w", err)
	}
	tx.origHead = head
	if branch != DetachedHead {
		tx.origBranch = branch
	}

	dirty, err := mgr.HasChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check working tree: %w", err)
	}
	if dirty {
		files, err := mgr.GetDirtyFiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list local changes: %w", err)
		}
		tx.dirty = files
		tx.stashMessage = fmt.Sprintf("%s %s-%d-%s",
			StashLabel, opts.Now().UTC().Format("20060102T150405Z"), os.Getpid(), uuid.New().String()[:8])

		ref, err := mgr.Stash(ctx, tx.stashMessage)
		if err != nil {
			// The push may have landed before the lookup failed.
			if _, ferr := mgr.FindStash(context.WithoutCancel(ctx), tx.stashMessage); ferr == nil {
				tx.Restore(context.WithoutCancel(ctx))
			}
			return nil, fmt.Errorf("failed to stash local changes: %w", err)
		}
		tx.stashRef = ref
		tx.logger.Info("stashed local changes", "stash", ref, "files", len(files))
	}

	if err := mgr.EnsureBranch(ctx, tx.branch, opts.BaseBranch); err != nil {
		tx.Restore(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to check out %s: %w", tx.branch, err)
	}

	return tx, nil
}

// Branch returns the run branch name.
func (t *Transaction) Branch() string {
	return t.branch
}

// StashRef returns the auto-stash reference, or "" when nothing was stashed.
func (t *Transaction) StashRef() string {
	return t.stashRef
}

// CommitProgress commits everything in the working tree to the run branch.
// It reports false when there was nothing to commit.
func (t *Transaction) CommitProgress(ctx context.Context, message string) (bool, error) {
	if _, err := t.mgr.Commit(ctx, message); err != nil {
		if errors.Is(err, ErrNoChanges) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Finalize squashes the run branch into one commit on the base branch and
// deletes the run branch.
func (t *Transaction) Finalize(ctx context.Context, subject string) error {
	if err := t.mgr.SquashMerge(ctx, t.branch, t.opts.BaseBranch, subject); err != nil {
		return fmt.Errorf("failed to merge %s into %s: %w", t.branch, t.opts.BaseBranch, err)
	}
	if err := t.mgr.DeleteBranch(ctx, t.branch); err != nil {
		return fmt.Errorf("failed to delete %s: %w", t.branch, err)
	}
	t.finalized = true
	return nil
}

// Restore returns to the caller's branch and re-applies the auto-stash unless
// the run touched any of the stashed paths. It is safe to call more than once;
// only the first call does anything.
func (t *Transaction) Restore(ctx context.Context) RestoreReport {
	var report RestoreReport
	if t.restored {
		return report
	}
	t.restored = true

	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		report.Warnings = append(report.Warnings, msg)
		t.logger.Warn(msg)
	}

	// Files touched by the run, computed before leaving the branch it ended on.
	touched, touchedErr := t.touchedFiles(ctx)
	if touchedErr != nil {
		warn("could not determine files touched by the run: %v", touchedErr)
	}

	if err := t.returnToOrigin(ctx, &report); err != nil {
		warn("failed to return to %s: %v", t.origin(), err)
	}

	if t.stashMessage == "" {
		return report
	}

	ref, err := t.mgr.FindStash(ctx, t.stashMessage)
	if err != nil {
		warn("auto-stash %q not found: %v", t.stashMessage, err)
		return report
	}
	report.StashKept = ref

	if touchedErr != nil {
		warn("leaving %s in place; restore it manually with `git stash apply %s`", ref, ref)
		return report
	}
	if overlap := intersect(t.dirty, touched); len(overlap) > 0 {
		warn("leaving %s in place: the run changed files that had local edits (%s); restore it manually with `git stash apply %s`",
			ref, strings.Join(overlap, ", "), ref)
		return report
	}

	if err := t.mgr.ApplyStash(ctx, ref); err != nil {
		warn("failed to apply %s: %v; the stash was kept", ref, err)
		return report
	}
	if err := t.mgr.DropStash(ctx, ref); err != nil {
		warn("applied %s but failed to drop it: %v", ref, err)
		return report
	}

	report.StashKept = ""
	report.StashRestored = true
	return report
}

func (t *Transaction) touchedFiles(ctx context.Context) ([]string, error) {
	head, err := t.mgr.GetCurrentCommit(ctx)
	if err != nil {
		return nil, err
	}
	if head == t.origHead {
		return nil, nil
	}
	return t.mgr.ChangedBetween(ctx, t.origHead, head)
}

func (t *Transaction) returnToOrigin(ctx context.Context, report *RestoreReport) error {
	if t.origBranch == "" {
		if err := t.mgr.CheckoutDetached(ctx, t.origHead); err != nil {
			return err
		}
		report.ReturnedTo = t.origHead
		return nil
	}

	current, err := t.mgr.GetCurrentBranch(ctx)
	if err == nil && current == t.origBranch {
		report.ReturnedTo = t.origBranch
		return nil
	}
	if t.finalized && t.origBranch == t.branch {
		// The run branch was merged and deleted; stay on the base branch.
		report.ReturnedTo = t.opts.BaseBranch
		return nil
	}
	if err := t.mgr.Checkout(ctx, t.origBranch); err != nil {
		return err
	}
	report.ReturnedTo = t.origBranch
	return nil
}

func (t *Transaction) origin() string {
	if t.origBranch != "" {
		return t.origBranch
	}
	return t.origHead
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
