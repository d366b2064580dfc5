package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/foundry/internal/exec"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
)

// EnvTaskIDs lists every task id, comma separated, for the integration command.
const EnvTaskIDs = "FOUNDRY_TASK_IDS"

// CommandIntegration runs the final cross-task check as a shell command in the repository.
type CommandIntegration struct {
	runner  exec.CommandRunner
	workDir string
}

// NewCommandIntegration creates an integration runner rooted at workDir.
func NewCommandIntegration(runner exec.CommandRunner, workDir string) *CommandIntegration {
	return &CommandIntegration{runner: runner, workDir: workDir}
}

// RunIntegration runs ref as a shell command. An empty ref passes.
func (c *CommandIntegration) RunIntegration(ctx context.Context, taskIDs []string, ref string) (orchestrator.IntegrationResult, error) {
	if strings.TrimSpace(ref) == "" {
		return orchestrator.IntegrationResult{Passed: true, Output: "no integration command configured"}, nil
	}

	env := []string{EnvTaskIDs + "=" + strings.Join(taskIDs, ",")}
	out, err := c.runner.RunShellEnv(ctx, c.workDir, env, ref)
	output := tail(string(out), maxGateOutput)
	if err != nil {
		if ctx.Err() != nil {
			return orchestrator.IntegrationResult{Output: output}, fmt.Errorf("integration command: %w", ctx.Err())
		}
		return orchestrator.IntegrationResult{Passed: false, Output: fmt.Sprintf("%s: %v\n%s", ref, err, output)}, nil
	}
	return orchestrator.IntegrationResult{Passed: true, Output: output}, nil
}

var _ orchestrator.IntegrationRunner = (*CommandIntegration)(nil)
