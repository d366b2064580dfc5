package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// call records one invocation of the fake runner.
type call struct {
	workDir string
	env     []string
	command string
}

// fakeRunner implements exec.CommandRunner with scripted behavior.
type fakeRunner struct {
	mu    sync.Mutex
	calls []call

	// shell handles RunShell and RunShellEnv.
	shell func(ctx context.Context, c call) ([]byte, error)
	// run handles Run.
	run func(ctx context.Context, workDir, name string, args ...string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	f.record(call{workDir: workDir, command: name + " " + strings.Join(args, " ")})
	if f.run == nil {
		return nil, errors.New("unexpected Run")
	}
	return f.run(ctx, workDir, name, args...)
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return f.RunShellEnv(ctx, workDir, nil, command)
}

func (f *fakeRunner) RunShellEnv(ctx context.Context, workDir string, env []string, command string) ([]byte, error) {
	c := call{workDir: workDir, env: env, command: command}
	f.record(c)
	if f.shell == nil {
		return []byte("ok"), nil
	}
	return f.shell(ctx, c)
}

func (f *fakeRunner) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.command)
	}
	return out
}

// envValue returns the value of key in a KEY=VALUE list.
func envValue(env []string, key string) string {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

// fakeCompleter returns a fixed answer and records prompts.
type fakeCompleter struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}
