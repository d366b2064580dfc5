package agent

import (
	"context"
	"errors"
	"testing"
)

func TestCommandIntegration(t *testing.T) {
	t.Run("no command passes", func(t *testing.T) {
		runner := &fakeRunner{}
		res, err := NewCommandIntegration(runner, "/repo").RunIntegration(context.Background(), []string{"a"}, "")
		if err != nil || !res.Passed {
			t.Errorf("RunIntegration() = %+v, %v; want pass", res, err)
		}
		if len(runner.commands()) != 0 {
			t.Errorf("ran %v, want nothing", runner.commands())
		}
	})

	t.Run("passes with task ids", func(t *testing.T) {
		runner := &fakeRunner{shell: func(ctx context.Context, c call) ([]byte, error) {
			if got := envValue(c.env, EnvTaskIDs); got != "a,b" {
				t.Errorf("%s = %q, want a,b", EnvTaskIDs, got)
			}
			if c.workDir != "/repo" {
				t.Errorf("workDir = %q", c.workDir)
			}
			return []byte("all green"), nil
		}}
		res, err := NewCommandIntegration(runner, "/repo").RunIntegration(context.Background(), []string{"a", "b"}, "make e2e")
		if err != nil || !res.Passed || res.Output != "all green" {
			t.Errorf("RunIntegration() = %+v, %v", res, err)
		}
	})

	t.Run("command failure fails", func(t *testing.T) {
		runner := &fakeRunner{shell: func(ctx context.Context, c call) ([]byte, error) {
			return []byte("e2e broke"), errors.New("exit status 1")
		}}
		res, err := NewCommandIntegration(runner, "/repo").RunIntegration(context.Background(), nil, "make e2e")
		if err != nil {
			t.Fatalf("RunIntegration() error = %v", err)
		}
		if res.Passed {
			t.Error("Passed = true, want false")
		}
	})
}
