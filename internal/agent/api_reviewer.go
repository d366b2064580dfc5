package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Completer sends one prompt to a language model. *api.Client implements it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error)
}

const reviewSystemPrompt = `You are a senior engineer reviewing one task's change in a larger plan.
Judge only whether the change accomplishes the task and its acceptance criteria.
Answer on the first line with exactly one verdict word followed by a colon and a short reason.`

// draftPromptLimit bounds the artifact text sent for review.
const draftPromptLimit = 60000

// APIReviewer asks a Claude model to review artifacts and gate escalations.
type APIReviewer struct {
	client Completer
}

// NewAPIReviewer creates a reviewer backed by client.
func NewAPIReviewer(client Completer) *APIReviewer {
	return &APIReviewer{client: client}
}

// Review returns APPROVE, REVISE or REJECT for a draft. An unparseable answer
// pauses for a human.
func (r *APIReviewer) Review(ctx context.Context, task *models.Task, draft *models.Draft) (models.Decision, error) {
	prompt := fmt.Sprintf(`## Task %s: %s
%s
%s
## Change
%s

Respond with EXACTLY one of:
- APPROVE: [why the change is acceptable]
- REVISE: [numbered list of what must change]
- REJECT: [why the task itself is wrong and must be re-planned]`,
		task.ID, task.Title, task.Description, criteria(task), renderDraft(draft, draftPromptLimit))

	text, err := r.client.Complete(ctx, reviewSystemPrompt, prompt, 2048)
	if err != nil {
		return models.Decision{}, fmt.Errorf("review %s: %w", task.ID, err)
	}
	return parseVerdict(text, models.VerdictApprove, models.VerdictRevise, models.VerdictReject), nil
}

// ReviewGateFailure decides whether failing gates may be overridden.
func (r *APIReviewer) ReviewGateFailure(ctx context.Context, task *models.Task, draft *models.Draft, results []models.GateResult) (models.Decision, error) {
	var gates strings.Builder
	for _, res := range results {
		fmt.Fprintf(&gates, "### %s: %s\n%s\n", res.Gate, res.Status, tail(res.Output, 4000))
	}
	prompt := fmt.Sprintf(`## Task %s: %s
%s
## Failing quality gates (retries exhausted)
%s
## Change
%s

The gates kept failing after every retry. Respond with EXACTLY one of:
- OVERRIDE: [why the failures are unrelated to this change and it may ship]
- REJECT: [why the task must be re-planned]
- PAUSE: [what a human needs to look at]`,
		task.ID, task.Title, task.Description, gates.String(), renderDraft(draft, draftPromptLimit/2))

	text, err := r.client.Complete(ctx, reviewSystemPrompt, prompt, 1024)
	if err != nil {
		return models.Decision{}, fmt.Errorf("review gate failure %s: %w", task.ID, err)
	}
	return parseVerdict(text, models.VerdictOverride, models.VerdictReject, models.VerdictPause), nil
}

// verdictAliases maps past-tense answers onto verdicts.
var verdictAliases = map[string]models.Verdict{
	"approved":   models.VerdictApprove,
	"lgtm":       models.VerdictApprove,
	"revised":    models.VerdictRevise,
	"rejected":   models.VerdictReject,
	"paused":     models.VerdictPause,
	"overridden": models.VerdictOverride,
}

// parseVerdict reads "VERDICT: reason" from the first non-empty line. A verdict
// outside allowed becomes PAUSE with the raw answer as feedback.
func parseVerdict(text string, allowed ...models.Verdict) models.Decision {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, "\n")
	word, reason, _ := strings.Cut(strings.TrimSpace(first), ":")
	word = strings.Trim(strings.TrimSpace(word), "*-# ")

	word = strings.ToLower(word)
	if v, ok := verdictAliases[word]; ok {
		word = string(v)
	}
	for _, v := range allowed {
		if string(v) == word {
			feedback := strings.TrimSpace(strings.TrimSpace(reason) + "\n" + strings.TrimSpace(rest))
			return models.Decision{Verdict: v, Feedback: feedback, Reviewer: ReviewerAI}
		}
	}
	return models.Decision{
		Verdict:  models.VerdictPause,
		Feedback: "unrecognised review answer: " + tail(text, 500),
		Reviewer: ReviewerAI,
	}
}

func criteria(task *models.Task) string {
	if len(task.AcceptanceCriteria) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nAcceptance criteria:\n")
	for _, c := range task.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

var _ orchestrator.Reviewer = (*APIReviewer)(nil)
