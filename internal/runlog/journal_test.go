package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(JournalPath(t.TempDir()))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_StartFinish(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	id, err := j.StartRun(ctx, "batched")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if id == "" {
		t.Fatal("run ID should not be empty")
	}

	run, err := j.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, StatusRunning)
	}
	if run.Strategy != "batched" {
		t.Errorf("Strategy = %q, want batched", run.Strategy)
	}
	if run.FinishedAt != nil {
		t.Error("FinishedAt should be nil for a running entry")
	}

	if err := j.FinishRun(ctx, id, "integrated", "after_execute"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, err = j.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusFinished || run.Outcome != "integrated" || run.Checkpoint != "after_execute" {
		t.Errorf("run = %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestJournal_FinishUnknown(t *testing.T) {
	j := newTestJournal(t)
	if err := j.FinishRun(context.Background(), "nope", "blocked", ""); err == nil {
		t.Error("expected error for unknown run")
	}
	if _, err := j.GetRun(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		j.SetClock(func() time.Time { return at })
		id, err := j.StartRun(ctx, "sequential")
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		ids = append(ids, id)
	}

	runs, err := j.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("order = [%s %s], want [%s %s]", runs[0].ID, runs[1].ID, ids[2], ids[1])
	}

	all, err := j.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) returned %d, want 3", len(all))
	}
}

func TestJournal_MarkAbandoned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")
	ctx := context.Background()

	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	crashed, _ := j.StartRun(ctx, "sequential")
	finished, _ := j.StartRun(ctx, "sequential")
	if err := j.FinishRun(ctx, finished, "integrated", "latest"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	j.Close()

	j, err = NewJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()

	ids, err := j.MarkAbandoned(ctx)
	if err != nil {
		t.Fatalf("MarkAbandoned: %v", err)
	}
	if len(ids) != 1 || ids[0] != crashed {
		t.Errorf("abandoned = %v, want [%s]", ids, crashed)
	}
	run, _ := j.GetRun(ctx, crashed)
	if run.Status != StatusAbandoned {
		t.Errorf("Status = %q, want %q", run.Status, StatusAbandoned)
	}
}
