// Package agent provides the concrete collaborators the orchestrator drives:
// a command-backed executor, quality gates, reviewers, and the integration check.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ShayCichocki/foundry/internal/exec"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Environment variables handed to the executor command.
const (
	EnvTaskFile   = "FOUNDRY_TASK_FILE"
	EnvResultFile = "FOUNDRY_RESULT_FILE"
	EnvTaskID     = "FOUNDRY_TASK_ID"
	EnvAttempt    = "FOUNDRY_ATTEMPT"
)

// maxDraftFileSize bounds how much of one changed file is captured in a draft.
const maxDraftFileSize = 256 * 1024

// ErrNoExecutorCommand is returned when no executor command is configured.
var ErrNoExecutorCommand = errors.New("no executor command configured (set executor.command)")

// ExecutorResult is the optional JSON document an executor command writes
// to $FOUNDRY_RESULT_FILE.
type ExecutorResult struct {
	Files       map[string]string `json:"files"`
	Explanation string            `json:"explanation"`
	CommitID    string            `json:"commit_id,omitempty"`
}

// CommandExecutor runs an external command for each dispatch attempt.
// The context package is written as JSON to a file whose path is passed in
// $FOUNDRY_TASK_FILE; the command runs inside the task's workspace.
type CommandExecutor struct {
	runner     exec.CommandRunner
	command    string
	packageDir string
	workDir    string
}

// NewCommandExecutor creates an executor that runs command through runner.
// packageDir receives the per-attempt context package files; workDir is used
// when a task has no workspace.
func NewCommandExecutor(runner exec.CommandRunner, command, packageDir, workDir string) *CommandExecutor {
	return &CommandExecutor{
		runner:     runner,
		command:    command,
		packageDir: packageDir,
		workDir:    workDir,
	}
}

// Execute writes the context package, runs the command and collects the draft.
func (e *CommandExecutor) Execute(ctx context.Context, pkg *models.ContextPackage) (*models.Draft, error) {
	if strings.TrimSpace(e.command) == "" {
		return nil, ErrNoExecutorCommand
	}
	if pkg == nil || pkg.Task == nil {
		return nil, errors.New("context package has no task")
	}

	if err := os.MkdirAll(e.packageDir, 0755); err != nil {
		return nil, fmt.Errorf("create package dir: %w", err)
	}
	base := fmt.Sprintf("%s-attempt-%d", sanitizeFileName(pkg.Task.ID), pkg.Attempt)
	taskFile := filepath.Join(e.packageDir, base+".json")
	resultFile := filepath.Join(e.packageDir, base+".result.json")
	_ = os.Remove(resultFile)

	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode context package: %w", err)
	}
	if err := os.WriteFile(taskFile, data, 0644); err != nil {
		return nil, fmt.Errorf("write context package: %w", err)
	}

	workDir := e.workDirFor(pkg.Task)
	env := []string{
		EnvTaskFile + "=" + taskFile,
		EnvResultFile + "=" + resultFile,
		EnvTaskID + "=" + pkg.Task.ID,
		EnvAttempt + "=" + strconv.Itoa(pkg.Attempt),
	}
	out, err := e.runner.RunShellEnv(ctx, workDir, env, e.command)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("executor command: %w", ctx.Err())
		}
		return nil, fmt.Errorf("executor command: %w: %s", err, tail(string(out), 2000))
	}

	draft, err := readResult(resultFile)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		files, err := e.changedFiles(ctx, workDir)
		if err != nil {
			return nil, err
		}
		draft = &models.Draft{Files: files, Explanation: tail(strings.TrimSpace(string(out)), 4000)}
	}
	draft.TaskID = pkg.Task.ID
	draft.Attempt = pkg.Attempt
	return draft, nil
}

func (e *CommandExecutor) workDirFor(task *models.Task) string {
	if task.WorkspacePath != "" {
		return task.WorkspacePath
	}
	return e.workDir
}

// readResult decodes the result file. A missing file returns nil, nil.
func readResult(path string) (*models.Draft, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read executor result: %w", err)
	}
	var res ExecutorResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode executor result %s: %w", path, err)
	}
	return &models.Draft{Files: res.Files, Explanation: res.Explanation, CommitID: res.CommitID}, nil
}

// changedFiles captures the files git reports as modified or added in workDir.
func (e *CommandExecutor) changedFiles(ctx context.Context, workDir string) (map[string]string, error) {
	out, err := e.runner.Run(ctx, workDir, "git", "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("list changed files: %w: %s", err, strings.TrimSpace(string(out)))
	}

	files := make(map[string]string)
	for _, path := range parsePorcelainPaths(string(out)) {
		full := filepath.Join(workDir, path)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			// Deleted files are recorded with empty contents.
			files[path] = ""
			continue
		}
		if info.Size() > maxDraftFileSize {
			files[path] = fmt.Sprintf("(%d bytes, not captured)", info.Size())
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read changed file %s: %w", path, err)
		}
		files[path] = string(content)
	}
	return files, nil
}

// parsePorcelainPaths extracts paths from `git status --porcelain` output.
// Renames report the destination path.
func parsePorcelainPaths(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, s)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var _ orchestrator.Executor = (*CommandExecutor)(nil)
