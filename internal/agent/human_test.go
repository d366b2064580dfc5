package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/foundry/pkg/models"
)

func TestHumanReviewer_PausesUntilDecided(t *testing.T) {
	dir := t.TempDir()
	h := NewHumanReviewer(dir)
	task := &models.Task{ID: "api", Title: "Build API"}
	draft := &models.Draft{Files: map[string]string{"api.go": "package api"}}

	d, err := h.Review(context.Background(), task, draft)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if d.Verdict != models.VerdictPause {
		t.Fatalf("Review() = %s, want pause while undecided", d.Verdict)
	}

	reqs, err := PendingRequests(dir)
	if err != nil {
		t.Fatalf("PendingRequests() error = %v", err)
	}
	if len(reqs) != 1 || reqs[0].TaskID != "api" || reqs[0].Kind != "review" {
		t.Fatalf("PendingRequests() = %+v", reqs)
	}
	if len(reqs[0].Files) != 1 || reqs[0].Files[0] != "api.go" {
		t.Errorf("request files = %v", reqs[0].Files)
	}

	path, err := WriteDecision(dir, "api", false, DecisionFile{Verdict: "revise", Feedback: "add tests", DecidedBy: "sam"})
	if err != nil {
		t.Fatalf("WriteDecision() error = %v", err)
	}

	d, err = h.Review(context.Background(), task, draft)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if d.Verdict != models.VerdictRevise || d.Feedback != "add tests" || d.Reviewer != "human:sam" {
		t.Errorf("Review() = %+v", d)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("decision file should be consumed")
	}
	if reqs, _ := PendingRequests(dir); len(reqs) != 0 {
		t.Errorf("request should be cleared, got %+v", reqs)
	}
}

func TestHumanReviewer_GateEscalation(t *testing.T) {
	dir := t.TempDir()
	h := NewHumanReviewer(dir)
	task := &models.Task{ID: "api"}
	results := []models.GateResult{{Gate: models.GateTest, Status: models.GateFail}}

	// A review answer does not answer the escalation.
	if _, err := WriteDecision(dir, "api", false, DecisionFile{Verdict: "approve"}); err != nil {
		t.Fatal(err)
	}
	d, err := h.ReviewGateFailure(context.Background(), task, nil, results)
	if err != nil || d.Verdict != models.VerdictPause {
		t.Fatalf("ReviewGateFailure() = %+v, %v; want pause", d, err)
	}

	if _, err := WriteDecision(dir, "api", true, DecisionFile{Verdict: "override", Feedback: "flaky"}); err != nil {
		t.Fatal(err)
	}
	d, err = h.ReviewGateFailure(context.Background(), task, nil, results)
	if err != nil {
		t.Fatalf("ReviewGateFailure() error = %v", err)
	}
	if d.Verdict != models.VerdictOverride || d.Reviewer != ReviewerHuman {
		t.Errorf("ReviewGateFailure() = %+v", d)
	}
}

func TestHumanReviewer_RejectsVerdictOutOfPlace(t *testing.T) {
	dir := t.TempDir()
	h := NewHumanReviewer(dir)
	if _, err := WriteDecision(dir, "api", false, DecisionFile{Verdict: "override"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Review(context.Background(), &models.Task{ID: "api"}, nil); err == nil {
		t.Error("Review() should refuse an override verdict")
	}
}

func TestWriteDecision_Invalid(t *testing.T) {
	if _, err := WriteDecision(t.TempDir(), "api", false, DecisionFile{Verdict: "maybe"}); err == nil {
		t.Error("WriteDecision() should reject an unknown verdict")
	}
}

func TestReadDecision_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	if err := os.WriteFile(path, []byte("verdict: [approve"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadDecision(path); err == nil {
		t.Error("ReadDecision() should fail on malformed YAML")
	}
}

func TestTaskIDFromDecisionFile(t *testing.T) {
	tests := []struct {
		name string
		id   string
		gate bool
	}{
		{"api.yaml", "api", false},
		{"api.gate.yaml", "api", true},
		{"api.request.yaml", "", false},
		{"api.yaml.tmp", "", false},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		id, gate := taskIDFromDecisionFile(tt.name)
		if id != tt.id || gate != tt.gate {
			t.Errorf("taskIDFromDecisionFile(%q) = %q, %v; want %q, %v", tt.name, id, gate, tt.id, tt.gate)
		}
	}
}
