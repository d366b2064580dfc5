package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Decision file suffixes. A review answer lives in <task>.yaml, a gate
// escalation answer in <task>.gate.yaml, and the question that is waiting in
// <task>.request.yaml.
const (
	decisionSuffix = ".yaml"
	gateSuffix     = ".gate.yaml"
	requestSuffix  = ".request.yaml"
)

// DecisionFile is the YAML document a person writes to answer a review.
type DecisionFile struct {
	Verdict   string    `yaml:"verdict"`
	Feedback  string    `yaml:"feedback,omitempty"`
	DecidedBy string    `yaml:"decided_by,omitempty"`
	DecidedAt time.Time `yaml:"decided_at,omitempty"`
}

// DecisionRequest describes a pending question for a person.
type DecisionRequest struct {
	TaskID      string   `yaml:"task_id"`
	Title       string   `yaml:"title"`
	Kind        string   `yaml:"kind"`
	Allowed     []string `yaml:"allowed"`
	Files       []string `yaml:"files,omitempty"`
	Explanation string   `yaml:"explanation,omitempty"`
	FailedGates []string `yaml:"failed_gates,omitempty"`
	AnswerPath  string   `yaml:"answer_path"`
}

// HumanReviewer answers from decision files in a directory. When no answer
// exists yet it writes a request file and returns PAUSE; the pipeline resumes
// once the answer file appears.
type HumanReviewer struct {
	dir string
}

// NewHumanReviewer creates a reviewer reading decisions from dir.
func NewHumanReviewer(dir string) *HumanReviewer {
	return &HumanReviewer{dir: dir}
}

// Dir returns the decisions directory.
func (h *HumanReviewer) Dir() string {
	return h.dir
}

// Review consumes <task>.yaml if present.
func (h *HumanReviewer) Review(ctx context.Context, task *models.Task, draft *models.Draft) (models.Decision, error) {
	allowed := []models.Verdict{models.VerdictApprove, models.VerdictRevise, models.VerdictReject, models.VerdictPause}
	req := DecisionRequest{TaskID: task.ID, Title: task.Title, Kind: "review"}
	if draft != nil {
		for p := range draft.Files {
			req.Files = append(req.Files, p)
		}
		req.Explanation = draft.Explanation
	}
	return h.decide(task.ID, decisionSuffix, allowed, req)
}

// ReviewGateFailure consumes <task>.gate.yaml if present.
func (h *HumanReviewer) ReviewGateFailure(ctx context.Context, task *models.Task, draft *models.Draft, results []models.GateResult) (models.Decision, error) {
	allowed := []models.Verdict{models.VerdictOverride, models.VerdictApprove, models.VerdictReject, models.VerdictPause}
	req := DecisionRequest{TaskID: task.ID, Title: task.Title, Kind: "gate_escalation"}
	for _, r := range results {
		if r.Failed() {
			req.FailedGates = append(req.FailedGates, string(r.Gate))
		}
	}
	return h.decide(task.ID, gateSuffix, allowed, req)
}

func (h *HumanReviewer) decide(taskID, suffix string, allowed []models.Verdict, req DecisionRequest) (models.Decision, error) {
	answer := filepath.Join(h.dir, sanitizeFileName(taskID)+suffix)
	d, err := ReadDecision(answer)
	if errors.Is(err, os.ErrNotExist) {
		for _, v := range allowed {
			req.Allowed = append(req.Allowed, string(v))
		}
		req.AnswerPath = answer
		if err := h.writeRequest(taskID, req); err != nil {
			return models.Decision{}, err
		}
		return models.Decision{
			Verdict:  models.VerdictPause,
			Feedback: "awaiting decision in " + answer,
			Reviewer: ReviewerHuman,
		}, nil
	}
	if err != nil {
		return models.Decision{}, err
	}

	if !verdictIn(d.Verdict, allowed) {
		return models.Decision{}, fmt.Errorf("decision %s: verdict %q not allowed here", answer, d.Verdict)
	}
	if err := os.Remove(answer); err != nil {
		return models.Decision{}, fmt.Errorf("consume decision %s: %w", answer, err)
	}
	_ = os.Remove(filepath.Join(h.dir, sanitizeFileName(taskID)+requestSuffix))
	return d, nil
}

func (h *HumanReviewer) writeRequest(taskID string, req DecisionRequest) error {
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return fmt.Errorf("create decisions dir: %w", err)
	}
	data, err := yaml.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode decision request: %w", err)
	}
	path := filepath.Join(h.dir, sanitizeFileName(taskID)+requestSuffix)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write decision request: %w", err)
	}
	return nil
}

// ReadDecision parses a decision file. A missing file returns an error
// matching os.ErrNotExist.
func ReadDecision(path string) (models.Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Decision{}, err
	}
	var f DecisionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.Decision{}, fmt.Errorf("parse decision %s: %w", path, err)
	}
	v, err := models.ParseVerdict(f.Verdict)
	if err != nil {
		return models.Decision{}, fmt.Errorf("decision %s: %w", path, err)
	}
	reviewer := ReviewerHuman
	if f.DecidedBy != "" {
		reviewer = ReviewerHuman + ":" + f.DecidedBy
	}
	return models.Decision{Verdict: v, Feedback: strings.TrimSpace(f.Feedback), Reviewer: reviewer}, nil
}

// WriteDecision records a person's answer for taskID. gate selects the
// escalation answer file instead of the review one. Returns the file written.
func WriteDecision(dir, taskID string, gate bool, f DecisionFile) (string, error) {
	if _, err := models.ParseVerdict(f.Verdict); err != nil {
		return "", err
	}
	if f.DecidedAt.IsZero() {
		f.DecidedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create decisions dir: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode decision: %w", err)
	}

	suffix := decisionSuffix
	if gate {
		suffix = gateSuffix
	}
	path := filepath.Join(dir, sanitizeFileName(taskID)+suffix)
	// Write then rename so a watcher never sees a half-written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write decision: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write decision: %w", err)
	}
	return path, nil
}

// PendingRequests lists the open decision requests in dir.
func PendingRequests(dir string) ([]DecisionRequest, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read decisions dir: %w", err)
	}
	var out []DecisionRequest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), requestSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read request %s: %w", e.Name(), err)
		}
		var req DecisionRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse request %s: %w", e.Name(), err)
		}
		out = append(out, req)
	}
	return out, nil
}

// taskIDFromDecisionFile returns the task id of an answer file name and whether
// it answers a gate escalation. The id is empty for requests and temp files.
func taskIDFromDecisionFile(name string) (string, bool) {
	switch {
	case strings.HasSuffix(name, requestSuffix), !strings.HasSuffix(name, decisionSuffix):
		return "", false
	case strings.HasSuffix(name, gateSuffix):
		return strings.TrimSuffix(name, gateSuffix), true
	default:
		return strings.TrimSuffix(name, decisionSuffix), false
	}
}

func verdictIn(v models.Verdict, allowed []models.Verdict) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

var _ orchestrator.Reviewer = (*HumanReviewer)(nil)
