package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	dir string
}

// NewRunner creates a runner whose commands run in dir.
func NewRunner(dir string) *ExecRunner {
	return &ExecRunner{dir: dir}
}

func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// HasChanges reports whether `git status --porcelain` prints anything.
func (r *ExecRunner) HasChanges() (bool, error) {
	status, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return status != "", nil
}

// Add stages the given paths.
func (r *ExecRunner) Add(paths ...string) error {
	_, err := r.run(append([]string{"add"}, paths...)...)
	return err
}

// Commit creates a commit with message.
func (r *ExecRunner) Commit(message string) error {
	_, err := r.run("commit", "-m", message)
	return err
}

// HeadCommit returns the full hash of HEAD.
func (r *ExecRunner) HeadCommit() (string, error) {
	return r.run("rev-parse", "HEAD")
}

// WorktreeAddNewBranch creates a worktree on a new branch. An empty base
// starts from HEAD.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.run(args...)
	return err
}

// WorktreeRemove force-removes the worktree at path.
func (r *ExecRunner) WorktreeRemove(path string) error {
	_, err := r.run("worktree", "remove", "--force", path)
	return err
}

// WorktreeListPorcelain returns the porcelain worktree listing.
func (r *ExecRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune() error {
	_, err := r.run("worktree", "prune")
	return err
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
