package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Reviewer names recorded on decisions.
const (
	ReviewerAuto  = "auto"
	ReviewerAI    = "ai"
	ReviewerHuman = "human"
)

// AutoReviewer approves any non-empty artifact and pauses on gate escalations.
type AutoReviewer struct{}

// Review approves drafts that changed at least one file and asks for a
// revision otherwise.
func (AutoReviewer) Review(ctx context.Context, task *models.Task, draft *models.Draft) (models.Decision, error) {
	if draft == nil || len(draft.Files) == 0 {
		return models.Decision{
			Verdict:  models.VerdictRevise,
			Feedback: "the attempt produced no file changes",
			Reviewer: ReviewerAuto,
		}, nil
	}
	return models.Decision{Verdict: models.VerdictApprove, Reviewer: ReviewerAuto}, nil
}

// ReviewGateFailure always pauses; overriding failing gates needs a person.
func (AutoReviewer) ReviewGateFailure(ctx context.Context, task *models.Task, draft *models.Draft, results []models.GateResult) (models.Decision, error) {
	return models.Decision{
		Verdict:  models.VerdictPause,
		Feedback: "gate retries exhausted: " + gateSummary(results),
		Reviewer: ReviewerAuto,
	}, nil
}

// SplitReviewer sends artifact reviews and gate escalations to different reviewers.
type SplitReviewer struct {
	Artifacts   orchestrator.Reviewer
	Escalations orchestrator.Reviewer
}

// Review delegates to the artifact reviewer.
func (s SplitReviewer) Review(ctx context.Context, task *models.Task, draft *models.Draft) (models.Decision, error) {
	return s.Artifacts.Review(ctx, task, draft)
}

// ReviewGateFailure delegates to the escalation reviewer.
func (s SplitReviewer) ReviewGateFailure(ctx context.Context, task *models.Task, draft *models.Draft, results []models.GateResult) (models.Decision, error) {
	return s.Escalations.ReviewGateFailure(ctx, task, draft, results)
}

// gateSummary renders failing gates as "build, test".
func gateSummary(results []models.GateResult) string {
	var names []string
	for _, r := range results {
		if r.Failed() {
			names = append(names, string(r.Gate))
		}
	}
	if len(names) == 0 {
		return "no failing gates reported"
	}
	return strings.Join(names, ", ")
}

// renderDraft formats a draft's files for a review prompt, sorted by path and
// truncated to limit bytes overall.
func renderDraft(draft *models.Draft, limit int) string {
	if draft == nil {
		return "(no artifact)"
	}
	paths := make([]string, 0, len(draft.Files))
	for p := range draft.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	if draft.Explanation != "" {
		fmt.Fprintf(&b, "Executor notes:\n%s\n\n", draft.Explanation)
	}
	for i, p := range paths {
		if b.Len() >= limit {
			fmt.Fprintf(&b, "\n... (%d more file(s) omitted)\n", len(paths)-i)
			break
		}
		fmt.Fprintf(&b, "--- %s\n%s\n", p, draft.Files[p])
	}
	out := b.String()
	if len(out) > limit {
		out = out[:limit] + "\n... (truncated)"
	}
	return out
}

var (
	_ orchestrator.Reviewer = AutoReviewer{}
	_ orchestrator.Reviewer = SplitReviewer{}
)
