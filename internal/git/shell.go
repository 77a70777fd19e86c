package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ShellManager implements the Manager interface by shelling out to git.
type ShellManager struct {
	workDir string
}

// NewShellManager creates a new ShellManager operating on the repository at workDir.
func NewShellManager(workDir string) *ShellManager {
	return &ShellManager{workDir: workDir}
}

// runGit executes a git command and returns its trimmed stdout.
func (m *ShellManager) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		stderrLower := strings.ToLower(stderrStr)
		command := "git " + strings.Join(args, " ")

		// Check if this is a "not a git repository" error
		if strings.Contains(stderrLower, "not a git repository") {
			return "", &GitError{Command: command, Output: stderrStr, Err: ErrNotAGitRepo}
		}

		// Check if this is an empty repo (no commits) error
		if strings.Contains(stderrLower, "ambiguous argument 'head'") ||
			strings.Contains(stderrLower, "unknown revision") {
			return "", &GitError{Command: command, Output: stderrStr, Err: ErrNoCommits}
		}

		if stderrStr == "" {
			stderrStr = strings.TrimSpace(stdout.String())
		}
		return "", &GitError{Command: command, Output: stderrStr, Err: err}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// lines runs git and splits its output into non-empty lines.
func (m *ShellManager) lines(ctx context.Context, args ...string) ([]string, error) {
	output, err := m.runGit(ctx, args...)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// GetCurrentBranch returns the name of the current branch.
// A detached HEAD is reported as DetachedHead.
func (m *ShellManager) GetCurrentBranch(ctx context.Context) (string, error) {
	return m.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// GetCurrentCommit returns the current HEAD commit hash.
func (m *ShellManager) GetCurrentCommit(ctx context.Context) (string, error) {
	return m.runGit(ctx, "rev-parse", "HEAD")
}

// HasChanges returns true if there are uncommitted changes in the working tree.
func (m *ShellManager) HasChanges(ctx context.Context) (bool, error) {
	output, err := m.runGit(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return output != "", nil
}

// GetDirtyFiles returns the union of unstaged, staged and untracked paths.
func (m *ShellManager) GetDirtyFiles(ctx context.Context) ([]string, error) {
	queries := [][]string{
		{"diff", "--name-only"},
		{"diff", "--cached", "--name-only"},
		{"ls-files", "--others", "--exclude-standard"},
	}

	seen := make(map[string]bool)
	var files []string
	for _, args := range queries {
		out, err := m.lines(ctx, args...)
		if err != nil {
			return nil, err
		}
		for _, f := range out {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Stash pushes all local changes, including untracked files, under message.
func (m *ShellManager) Stash(ctx context.Context, message string) (string, error) {
	if _, err := m.runGit(ctx, "stash", "push", "-u", "-m", message); err != nil {
		return "", err
	}
	return m.FindStash(ctx, message)
}

// FindStash returns the stash reference whose subject contains message.
func (m *ShellManager) FindStash(ctx context.Context, message string) (string, error) {
	entries, err := m.lines(ctx, "stash", "list", "--format=%gd %gs")
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		ref, subject, _ := strings.Cut(entry, " ")
		if strings.Contains(subject, message) {
			return ref, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrStashNotFound, message)
}

// ApplyStash applies the stash without dropping it.
func (m *ShellManager) ApplyStash(ctx context.Context, ref string) error {
	_, err := m.runGit(ctx, "stash", "apply", ref)
	return err
}

// DropStash removes the stash.
func (m *ShellManager) DropStash(ctx context.Context, ref string) error {
	_, err := m.runGit(ctx, "stash", "drop", ref)
	return err
}

// Checkout switches to an existing branch.
func (m *ShellManager) Checkout(ctx context.Context, branch string) error {
	_, err := m.runGit(ctx, "checkout", branch)
	return err
}

// CheckoutDetached detaches HEAD at commit.
func (m *ShellManager) CheckoutDetached(ctx context.Context, commit string) error {
	_, err := m.runGit(ctx, "checkout", "--detach", commit)
	return err
}

// BranchExists reports whether a local branch exists.
func (m *ShellManager) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := m.runGit(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) && !errors.Is(err, ErrNotAGitRepo) {
		return false, nil
	}
	return false, err
}

// EnsureBranch switches to base and then to branch, creating it when missing.
func (m *ShellManager) EnsureBranch(ctx context.Context, branch, base string) error {
	if base != "" {
		if err := m.Checkout(ctx, base); err != nil {
			return err
		}
	}

	exists, err := m.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if exists {
		return m.Checkout(ctx, branch)
	}

	_, err = m.runGit(ctx, "checkout", "-b", branch)
	return err
}

// ChangedBetween lists paths that differ between two commits.
func (m *ShellManager) ChangedBetween(ctx context.Context, from, to string) ([]string, error) {
	return m.lines(ctx, "diff", "--name-only", from, to)
}

// Commit creates a commit with the given message and returns the commit hash.
// It stages all changes before committing.
func (m *ShellManager) Commit(ctx context.Context, message string) (string, error) {
	hasChanges, err := m.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !hasChanges {
		return "", &GitError{
			Command: "git commit",
			Output:  "nothing to commit, working tree clean",
			Err:     ErrNoChanges,
		}
	}

	if _, err := m.runGit(ctx, "add", "-A"); err != nil {
		return "", err
	}

	if _, err := m.runGit(ctx, "commit", "-m", message); err != nil {
		return "", &GitError{
			Command: "git commit",
			Output:  err.Error(),
			Err:     ErrCommitFailed,
		}
	}

	return m.GetCurrentCommit(ctx)
}

// SquashMerge rebases branch onto base, collapses it into one commit and
// fast-forwards base. If the rebase fails it is aborted and branch is left
// as it was.
func (m *ShellManager) SquashMerge(ctx context.Context, branch, base, message string) error {
	if err := m.Checkout(ctx, branch); err != nil {
		return err
	}

	if _, err := m.runGit(ctx, "rebase", base); err != nil {
		_, _ = m.runGit(ctx, "rebase", "--abort")
		return &GitError{Command: "git rebase " + base, Output: err.Error(), Err: ErrRebaseFailed}
	}

	if _, err := m.runGit(ctx, "reset", "--soft", base); err != nil {
		return err
	}
	if _, err := m.runGit(ctx, "add", "-A"); err != nil {
		return err
	}

	staged, err := m.runGit(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return err
	}
	if staged != "" {
		if _, err := m.runGit(ctx, "commit", "-m", message); err != nil {
			return &GitError{Command: "git commit", Output: err.Error(), Err: ErrCommitFailed}
		}
	}

	if err := m.Checkout(ctx, base); err != nil {
		return err
	}
	_, err = m.runGit(ctx, "merge", "--ff-only", branch)
	return err
}

// DeleteBranch force-deletes a local branch.
func (m *ShellManager) DeleteBranch(ctx context.Context, branch string) error {
	_, err := m.runGit(ctx, "branch", "-D", branch)
	return err
}

// ExcludePath appends pattern to .git/info/exclude unless it is already listed.
func (m *ShellManager) ExcludePath(ctx context.Context, pattern string) error {
	path, err := m.runGit(ctx, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.workDir, path)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read exclude file: %w", err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create exclude directory: %w", err)
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += pattern + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write exclude file: %w", err)
	}
	return nil
}
