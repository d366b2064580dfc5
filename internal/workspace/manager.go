// Package workspace gives each in-flight task its own git worktree.
package workspace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foundry/internal/git"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// BranchPrefix marks branches created by the manager.
const BranchPrefix = "foundry/"

// Worktree is a git worktree as reported by `git worktree list`.
type Worktree struct {
	Path       string
	BranchName string
	// TaskID is recovered from foundry branch names; empty otherwise.
	TaskID string
}

// Manager hands out one worktree per task. Branches outlive their worktree so
// the produced commits stay reachable after Release.
type Manager struct {
	baseDir  string
	repoPath string
	baseRef  string
	git      git.Runner
	// runnerFor opens a git runner inside a worktree.
	runnerFor func(dir string) git.Runner
	mu        sync.Mutex
}

// Verify Manager implements orchestrator.WorkspaceManager at compile time.
var _ orchestrator.WorkspaceManager = (*Manager)(nil)

// NewManager creates a manager that puts worktrees under baseDir.
// baseRef is the ref new branches start from; empty means HEAD.
func NewManager(baseDir, repoPath, baseRef string) (*Manager, error) {
	return NewManagerWithRunner(baseDir, repoPath, baseRef, git.NewRunner(repoPath), func(dir string) git.Runner {
		return git.NewRunner(dir)
	})
}

// NewManagerWithRunner creates a manager with custom git runners (for testing).
func NewManagerWithRunner(baseDir, repoPath, baseRef string, runner git.Runner, runnerFor func(dir string) git.Runner) (*Manager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(repoPath, ".foundry", "worktrees")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	return &Manager{
		baseDir:   baseDir,
		repoPath:  repoPath,
		baseRef:   baseRef,
		git:       runner,
		runnerFor: runnerFor,
	}, nil
}

// Acquire creates a fresh worktree and branch for task.
func (m *Manager) Acquire(ctx context.Context, task *models.Task) (*orchestrator.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	suffix := uuid.New().String()[:8]
	branch := BranchName(task.ID, suffix)
	path := filepath.Join(m.baseDir, strings.ReplaceAll(strings.TrimPrefix(branch, BranchPrefix), "/", "-"))

	if err := m.git.WorktreeAddNewBranch(path, branch, m.baseRef); err != nil {
		return nil, fmt.Errorf("create worktree for %s: %w", task.ID, err)
	}
	return &orchestrator.Workspace{Path: path, Branch: branch}, nil
}

// CommitID commits any pending changes in the workspace and returns HEAD.
func (m *Manager) CommitID(ctx context.Context, ws *orchestrator.Workspace) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := m.runnerFor(ws.Path)

	dirty, err := r.HasChanges()
	if err != nil {
		return "", fmt.Errorf("check workspace changes: %w", err)
	}
	if dirty {
		if err := r.Add("-A"); err != nil {
			return "", fmt.Errorf("stage workspace changes: %w", err)
		}
		if err := r.Commit("foundry: " + ws.Branch); err != nil {
			return "", fmt.Errorf("commit workspace changes: %w", err)
		}
	}

	commit, err := r.HeadCommit()
	if err != nil {
		return "", fmt.Errorf("read workspace head: %w", err)
	}
	return commit, nil
}

// Release removes the worktree directory. The branch is kept.
func (m *Manager) Release(ctx context.Context, ws *orchestrator.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemove(ws.Path); err != nil {
		if rmErr := os.RemoveAll(ws.Path); rmErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
		_ = m.git.WorktreePrune()
	}
	return nil
}

// List returns the foundry worktrees git knows about.
func (m *Manager) List() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() ([]*Worktree, error) {
	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	all, err := parseWorktreeList(output)
	if err != nil {
		return nil, err
	}
	var out []*Worktree
	for _, wt := range all {
		if wt.TaskID != "" && wt.Path != m.repoPath {
			out = append(out, wt)
		}
	}
	return out, nil
}

// CleanupOrphans removes foundry worktrees whose path no task holds.
// inUse is the set of WorkspacePath values recorded on tasks.
// If verbose is non-nil it is called for each removed worktree.
func (m *Manager) CleanupOrphans(inUse map[string]bool, verbose func(path string)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	worktrees, err := m.listLocked()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, wt := range worktrees {
		if inUse[wt.Path] {
			continue
		}
		if err := m.git.WorktreeRemove(wt.Path); err != nil {
			if err := os.RemoveAll(wt.Path); err != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePrune()
	return removed, nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// BranchName builds the branch for a task. Characters git rejects in refs are
// replaced so any task id is usable.
func BranchName(taskID, suffix string) string {
	return BranchPrefix + sanitize(taskID) + "-" + suffix
}

// taskIDFromBranch recovers the sanitized task id from a foundry branch.
func taskIDFromBranch(branch string) string {
	if !strings.HasPrefix(branch, BranchPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(branch, BranchPrefix)
	i := strings.LastIndex(rest, "-")
	if i <= 0 {
		return ""
	}
	return rest[:i]
}

func sanitize(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	s := strings.Trim(sb.String(), ".")
	if s == "" {
		return "task"
	}
	return s
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			current.BranchName = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			current.TaskID = taskIDFromBranch(current.BranchName)
		}
	}

	if current != nil {
		worktrees = append(worktrees, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}
