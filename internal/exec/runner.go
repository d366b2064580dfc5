package exec

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait keeps reading output after the process group
// has been killed.
const waitDelay = 2 * time.Second

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// command builds a cmd in its own process group. Cancelling ctx kills the
// whole group, so forked children cannot hold the output pipe open.
func command(ctx context.Context, workDir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	return command(ctx, workDir, name, args...).CombinedOutput()
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, shell string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", shell)
}

// RunShellEnv executes a shell command with additional environment entries.
func (r *ExecRunner) RunShellEnv(ctx context.Context, workDir string, env []string, shell string) ([]byte, error) {
	cmd := command(ctx, workDir, "sh", "-c", shell)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
