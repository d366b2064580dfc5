package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/foundry/internal/exec"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// maxGateOutput bounds the output kept on a gate result.
const maxGateOutput = 8000

// QualityGates runs quality checks (tests, build, lint, typecheck) in a task's workspace.
// A gate with a configured command always runs it; otherwise the command is
// derived from the project type, and a gate with no applicable command is skipped.
type QualityGates struct {
	runner   exec.CommandRunner
	commands map[models.GateKind]string
	workDir  string
	now      func() time.Time
}

// NewQualityGates creates a gate runner. commands maps gate kinds to shell
// commands; workDir is used for tasks without a workspace.
func NewQualityGates(runner exec.CommandRunner, commands map[string]string, workDir string) *QualityGates {
	q := &QualityGates{
		runner:   runner,
		commands: make(map[models.GateKind]string, len(commands)),
		workDir:  workDir,
		now:      time.Now,
	}
	for kind, cmd := range commands {
		q.commands[models.GateKind(kind)] = cmd
	}
	return q
}

// RunGate runs one gate and reports pass, fail, or skipped.
// Command failures and timeouts are gate failures, not errors; the only error
// returned is the caller's context being cancelled.
func (q *QualityGates) RunGate(ctx context.Context, task *models.Task, draft *models.Draft, gate models.GateKind) (models.GateResult, error) {
	workDir := q.workDir
	if task != nil && task.WorkspacePath != "" {
		workDir = task.WorkspacePath
	}

	res := models.GateResult{Gate: gate}
	command, reason := q.commandFor(gate, workDir)
	if command == "" {
		res.Status = models.GateSkipped
		res.Output = reason
		res.RanAt = q.now()
		return res, nil
	}

	start := q.now()
	out, err := q.runner.RunShell(ctx, workDir, command)
	res.Duration = q.now().Sub(start)
	res.RanAt = q.now()
	res.Output = tail(string(out), maxGateOutput)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Status = models.GateFail
		res.Output = fmt.Sprintf("%s timed out: %s", command, res.Output)
	case ctx.Err() != nil:
		return res, ctx.Err()
	case err != nil:
		res.Status = models.GateFail
		if res.Output == "" {
			res.Output = fmt.Sprintf("%s: %v", command, err)
		}
	default:
		res.Status = models.GatePass
	}
	return res, nil
}

// commandFor returns the shell command for gate, or "" and a skip reason.
func (q *QualityGates) commandFor(gate models.GateKind, workDir string) (string, string) {
	if cmd := strings.TrimSpace(q.commands[gate]); cmd != "" {
		return cmd, ""
	}

	switch projectType := detectProjectType(workDir); projectType {
	case "go":
		switch gate {
		case models.GateBuild:
			return "go build ./...", ""
		case models.GateTest:
			if !hasGoTestFiles(workDir) {
				return "", "No Go test files found"
			}
			return "go test ./...", ""
		case models.GateLint:
			return "go vet ./...", ""
		case models.GateTypecheck:
			return "", "Go type checking is handled by build gate"
		}
	case "node":
		switch gate {
		case models.GateBuild, models.GateTest, models.GateLint:
			script := string(gate)
			if !hasNodeScript(workDir, script) {
				return "", "No " + script + " script in package.json"
			}
			if gate == models.GateTest {
				return "npm test", ""
			}
			return "npm run " + script, ""
		case models.GateTypecheck:
			if _, err := os.Stat(filepath.Join(workDir, "tsconfig.json")); err != nil {
				return "", "Not a TypeScript project"
			}
			return "npx tsc --noEmit", ""
		}
	case "python":
		switch gate {
		case models.GateTest:
			return "python -m pytest", ""
		case models.GateBuild:
			return "", "Python projects typically don't require building"
		}
	}
	return "", fmt.Sprintf("no %s command configured", gate)
}

// detectProjectType determines the type of project in the work directory.
func detectProjectType(workDir string) string {
	markers := []struct {
		file string
		kind string
	}{
		{"go.mod", "go"},
		{"package.json", "node"},
		{"pyproject.toml", "python"},
		{"setup.py", "python"},
		{"requirements.txt", "python"},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(workDir, m.file)); err == nil {
			return m.kind
		}
	}
	return "unknown"
}

// hasGoTestFiles checks if the project has any Go test files.
func hasGoTestFiles(workDir string) bool {
	found := false
	_ = filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != workDir && (d.Name() == "vendor" || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(path, "_test.go") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// hasNodeScript checks if package.json mentions a script name.
func hasNodeScript(workDir, script string) bool {
	content, err := os.ReadFile(filepath.Join(workDir, "package.json"))
	if err != nil {
		return false
	}
	return strings.Contains(string(content), `"`+script+`"`)
}

var _ orchestrator.GateRunner = (*QualityGates)(nil)
