package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/foundry/internal/exec"
	"github.com/ShayCichocki/foundry/pkg/models"
)

func testPackage(ws string) *models.ContextPackage {
	return &models.ContextPackage{
		Task:     &models.Task{ID: "api", Title: "Build API", WorkspacePath: ws},
		Feedback: []string{"use the existing router"},
		Attempt:  2,
	}
}

func TestCommandExecutor_ResultFile(t *testing.T) {
	ws := t.TempDir()
	pkgDir := filepath.Join(t.TempDir(), "packages")

	runner := &fakeRunner{shell: func(ctx context.Context, c call) ([]byte, error) {
		if c.workDir != ws {
			t.Errorf("workDir = %q, want %q", c.workDir, ws)
		}
		if got := envValue(c.env, EnvAttempt); got != "2" {
			t.Errorf("%s = %q, want 2", EnvAttempt, got)
		}

		data, err := os.ReadFile(envValue(c.env, EnvTaskFile))
		if err != nil {
			t.Fatalf("read task file: %v", err)
		}
		var pkg models.ContextPackage
		if err := json.Unmarshal(data, &pkg); err != nil {
			t.Fatalf("decode task file: %v", err)
		}
		if pkg.Task.ID != "api" || len(pkg.Feedback) != 1 {
			t.Errorf("package = %+v", pkg)
		}

		res, _ := json.Marshal(ExecutorResult{
			Files:       map[string]string{"api.go": "package api"},
			Explanation: "added handler",
		})
		return []byte("done"), os.WriteFile(envValue(c.env, EnvResultFile), res, 0644)
	}}

	e := NewCommandExecutor(runner, "./draft.sh", pkgDir, "/repo")
	draft, err := e.Execute(context.Background(), testPackage(ws))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if draft.TaskID != "api" || draft.Attempt != 2 {
		t.Errorf("draft identity = %s/%d", draft.TaskID, draft.Attempt)
	}
	if draft.Files["api.go"] != "package api" || draft.Explanation != "added handler" {
		t.Errorf("draft = %+v", draft)
	}
}

func TestCommandExecutor_ChangedFiles(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "dir"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "a.go"), []byte("package a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "dir", "b.go"), []byte("package dir"), 0644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{
		shell: func(ctx context.Context, c call) ([]byte, error) {
			return []byte("wrote two files\n"), nil
		},
		run: func(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
			return []byte(" M a.go\n?? dir/b.go\n D gone.go\n"), nil
		},
	}

	e := NewCommandExecutor(runner, "./draft.sh", t.TempDir(), "")
	draft, err := e.Execute(context.Background(), testPackage(ws))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := map[string]string{"a.go": "package a", "dir/b.go": "package dir", "gone.go": ""}
	if !reflect.DeepEqual(draft.Files, want) {
		t.Errorf("Files = %v, want %v", draft.Files, want)
	}
	if draft.Explanation != "wrote two files" {
		t.Errorf("Explanation = %q", draft.Explanation)
	}
}

func TestCommandExecutor_Errors(t *testing.T) {
	t.Run("no command", func(t *testing.T) {
		e := NewCommandExecutor(&fakeRunner{}, " ", t.TempDir(), "")
		if _, err := e.Execute(context.Background(), testPackage("")); !errors.Is(err, ErrNoExecutorCommand) {
			t.Errorf("Execute() error = %v, want ErrNoExecutorCommand", err)
		}
	})

	t.Run("command fails", func(t *testing.T) {
		runner := &fakeRunner{shell: func(ctx context.Context, c call) ([]byte, error) {
			return []byte("model overloaded"), errors.New("exit status 1")
		}}
		e := NewCommandExecutor(runner, "./draft.sh", t.TempDir(), "")
		_, err := e.Execute(context.Background(), testPackage(""))
		if err == nil || !strings.Contains(err.Error(), "model overloaded") {
			t.Errorf("Execute() error = %v, want command output in it", err)
		}
	})

	t.Run("bad result file", func(t *testing.T) {
		runner := &fakeRunner{shell: func(ctx context.Context, c call) ([]byte, error) {
			return nil, os.WriteFile(envValue(c.env, EnvResultFile), []byte("{not json"), 0644)
		}}
		e := NewCommandExecutor(runner, "./draft.sh", t.TempDir(), "")
		if _, err := e.Execute(context.Background(), testPackage("")); err == nil {
			t.Error("Execute() should fail on an undecodable result file")
		}
	})
}

func TestParsePorcelainPaths(t *testing.T) {
	out := " M b.go\nR  old.go -> new.go\n?? \"with space.go\"\n\n"
	got := parsePorcelainPaths(out)
	want := []string{"b.go", "new.go", "with space.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parsePorcelainPaths() = %v, want %v", got, want)
	}
}

func TestCommandExecutor_TimeoutBoundsShellChildren(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	e := NewCommandExecutor(exec.NewRunner(), "sleep 3; echo done", filepath.Join(t.TempDir(), "packages"), t.TempDir())
	start := time.Now()
	_, err := e.Execute(ctx, testPackage(""))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Execute() returned after %v, want it bounded by the timeout", elapsed)
	}
}
