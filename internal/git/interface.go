// Package git wraps the git commands foundry needs to manage task worktrees.
package git

// CommitOperations records work produced inside a worktree.
type CommitOperations interface {
	// HasChanges reports whether the working tree has uncommitted changes.
	HasChanges() (bool, error)
	// Add stages the given paths.
	Add(paths ...string) error
	// Commit creates a commit with message.
	Commit(message string) error
	// HeadCommit returns the full hash of HEAD.
	HeadCommit() (string, error)
}

// WorktreeOperations creates and tears down worktrees.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path on a new branch started at base.
	WorktreeAddNewBranch(path, branch, base string) error
	// WorktreeRemove force-removes the worktree at path.
	WorktreeRemove(path string) error
	// WorktreeListPorcelain returns `git worktree list --porcelain` output.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner is everything the workspace manager asks of git.
type Runner interface {
	CommitOperations
	WorktreeOperations
}
