package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// taskResult is the per-iteration outcome of driving one task.
type taskResult int

const (
	resultDone taskResult = iota
	resultPaused
	resultRejected
	resultCancelled
	// resultSkipped means the task was no longer in flight when its turn came.
	resultSkipped
)

// Loop names used in blocked reasons and audit entries.
const (
	loopRevision = "revision"
	loopGate     = "gate"
)

// loopOutcome is how a dispatch loop ended. approved is nil and stopped is
// false when the attempt budget ran out.
type loopOutcome struct {
	approved *models.Draft
	stopped  bool
	result   taskResult
	attempts int
}

// runTask drives a claimed task until it is DONE, FAILED or paused.
func (o *Orchestrator) runTask(ctx context.Context, id string) taskResult {
	task, stage, ok := o.beginTask(id)
	if !ok {
		o.logger.Log("task %s no longer in flight, skipping", id)
		o.scheduler.Unclaim(id)
		return resultSkipped
	}

	ws, err := o.ensureWorkspace(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return resultCancelled
		}
		return o.pause(ctx, id, models.StageDispatch,
			fmt.Sprintf("task %s: workspace unavailable before revision loop: %v", id, err))
	}

	o.events.Emit(OrchestratorEvent{Type: EventTaskStarted, TaskID: id, TaskTitle: task.Title, Message: string(stage)})
	o.logger.Task(id, stage, "starting")

	var reuse *models.Draft
	switch stage {
	case models.StageEscalation:
		if stored := o.project.Draft(id); stored != nil {
			return o.escalate(ctx, id, ws, stored, 0)
		}
	case models.StageReview:
		reuse = o.project.Draft(id)
	}

	out := o.dispatchLoop(ctx, id, ws, o.policy.Retry.MaxRevisions+1, loopRevision, reuse)
	if out.stopped {
		return out.result
	}
	if out.approved == nil {
		return o.pause(ctx, id, models.StageDispatch,
			fmt.Sprintf("task %s: max revisions reached in revision loop after %d attempt(s) without approval", id, out.attempts))
	}
	return o.gateLoop(ctx, id, ws, out.approved)
}

// beginTask checks the task is still in flight and returns its stage.
func (o *Orchestrator) beginTask(id string) (*models.Task, models.Stage, bool) {
	var task *models.Task
	var stage models.Stage
	o.project.Update(func(s *project.State) {
		t := s.Get(id)
		if t == nil || (t.Status != models.TaskStatusInProgress && t.Status != models.TaskStatusInReview) {
			return
		}
		t.Status = models.TaskStatusInProgress
		stage = s.Progress(id).Stage
		task = t.Clone()
	})
	return task, stage, task != nil
}

// dispatchLoop runs up to budget dispatch+review attempts. reuse, when set, is a
// stored draft reviewed in place of the first dispatch.
func (o *Orchestrator) dispatchLoop(ctx context.Context, id string, ws *Workspace, budget int, loop string, reuse *models.Draft) loopOutcome {
	var out loopOutcome
	for out.attempts < budget {
		out.attempts++

		draft, decision, execErr := o.attempt(ctx, id, ws, reuse, loop)
		reuse = nil
		if execErr != nil {
			if ctx.Err() != nil {
				return loopOutcome{stopped: true, result: resultCancelled}
			}
			continue
		}

		switch decision.Verdict {
		case models.VerdictApprove, models.VerdictOverride:
			out.approved = draft
			return out
		case models.VerdictReject:
			return loopOutcome{stopped: true, result: o.reject(ctx, id, ws, decision, loop)}
		case models.VerdictPause:
			reason := fmt.Sprintf("task %s: paused by %s reviewer in %s loop at attempt %d of %d",
				id, reviewerName(decision), loop, out.attempts, budget)
			if decision.Feedback != "" {
				reason += ": " + decision.Feedback
			}
			return loopOutcome{stopped: true, result: o.pause(ctx, id, models.StageReview, reason)}
		}
		// REVISE: feedback was recorded by attempt; try again.
	}
	return out
}

// attempt performs one dispatch (unless reuse is set) and one review.
// A non-nil error means the executor failed and the attempt is spent.
func (o *Orchestrator) attempt(ctx context.Context, id string, ws *Workspace, reuse *models.Draft, loop string) (*models.Draft, models.Decision, error) {
	draft := reuse
	if draft == nil {
		var err error
		draft, err = o.dispatch(ctx, id, ws, loop)
		if err != nil {
			return nil, models.Decision{}, err
		}
	}

	var task *models.Task
	o.project.Update(func(s *project.State) {
		t := s.Get(id)
		t.Status = models.TaskStatusInReview
		s.Progress(id).Stage = models.StageReview
		task = t.Clone()
	})

	decision, err := o.reviewer.Review(ctx, task, draft.Clone())
	if err != nil {
		decision = models.Decision{Verdict: models.VerdictPause, Feedback: fmt.Sprintf("reviewer error: %v", err)}
	} else if !decision.Verdict.Valid() {
		decision = models.Decision{Verdict: models.VerdictPause, Feedback: fmt.Sprintf("reviewer returned unknown verdict %q", decision.Verdict), Reviewer: decision.Reviewer}
	}

	o.project.Update(func(s *project.State) {
		s.Get(id).Status = models.TaskStatusInProgress
		s.Record(models.AuditDecision, id, "review_"+string(decision.Verdict),
			fmt.Sprintf("%s loop, attempt %d, reviewer=%s: %s", loop, draft.Attempt, reviewerName(decision), decision.Feedback))
		if decision.Verdict == models.VerdictRevise {
			p := s.Progress(id)
			p.Stage = models.StageDispatch
			if decision.Feedback != "" {
				p.Feedback = append(p.Feedback, "review: "+decision.Feedback)
			}
		}
	})
	o.events.Emit(OrchestratorEvent{Type: EventDecision, TaskID: id, Attempt: draft.Attempt, Message: string(decision.Verdict)})
	return draft, decision, nil
}

// dispatch builds the context package, calls the executor under the executor
// timeout and records the resulting draft.
func (o *Orchestrator) dispatch(ctx context.Context, id string, ws *Workspace, loop string) (*models.Draft, error) {
	var pkg *models.ContextPackage
	o.project.Update(func(s *project.State) {
		t := s.Get(id)
		p := s.Progress(id)
		p.Attempts++
		p.Stage = models.StageDispatch

		pkg = &models.ContextPackage{
			Task:              t.Clone(),
			AuditContext:      s.AuditContext(),
			DependencyOutputs: make(map[string]*models.Draft),
			Feedback:          append([]string(nil), p.Feedback...),
			PreviousDraft:     s.Draft(id).Clone(),
			Attempt:           p.Attempts,
		}
		for _, dep := range t.Dependencies {
			if d := s.Get(dep); d != nil && d.Status == models.TaskStatusDone {
				if out := s.Draft(dep); out != nil {
					pkg.DependencyOutputs[dep] = out.Clone()
				}
			}
		}
	})

	ectx, cancel := context.WithTimeout(ctx, o.policy.Timeouts.Executor)
	draft, err := o.executor.Execute(ectx, pkg)
	timedOut := errors.Is(ectx.Err(), context.DeadlineExceeded)
	cancel()

	if err == nil && draft == nil {
		err = errors.New("executor returned no artifact")
	}
	if err != nil {
		if timedOut && ctx.Err() == nil {
			err = fmt.Errorf("executor timed out after %s: %w", o.policy.Timeouts.Executor, err)
		}
		o.logger.Task(id, models.StageDispatch, "%s loop attempt %d failed: %v", loop, pkg.Attempt, err)
		o.project.Update(func(s *project.State) {
			s.Progress(id).Feedback = append(s.Progress(id).Feedback, fmt.Sprintf("attempt %d failed: %v", pkg.Attempt, err))
			s.Record(models.AuditExecution, id, "dispatch_failed", fmt.Sprintf("%s loop, attempt %d: %v", loop, pkg.Attempt, err))
		})
		return nil, err
	}

	draft = draft.Clone()
	draft.TaskID = id
	draft.Attempt = pkg.Attempt
	if draft.CommitID == "" && ws != nil && o.workspaces != nil {
		if commit, cerr := o.workspaces.CommitID(ctx, ws); cerr == nil {
			draft.CommitID = commit
		} else {
			o.logger.Task(id, models.StageDispatch, "commit lookup failed: %v", cerr)
		}
	}
	if draft.BranchName == "" && ws != nil {
		draft.BranchName = ws.Branch
	}

	o.project.Update(func(s *project.State) {
		if draft.CreatedAt.IsZero() {
			draft.CreatedAt = s.Now()
		}
		s.SetDraft(draft)
		s.Record(models.AuditExecution, id, "dispatched", fmt.Sprintf("%s loop, attempt %d, %d file(s)", loop, draft.Attempt, len(draft.Files)))
	})
	return draft, nil
}

// gateLoop runs gate rounds on the approved draft, re-dispatching once per
// failing round while retries remain, then escalates.
func (o *Orchestrator) gateLoop(ctx context.Context, id string, ws *Workspace, approved *models.Draft) taskResult {
	rounds, retries := 0, 0
	runGates := true
	for {
		if runGates {
			rounds++
			failing, cancelled := o.runGates(ctx, id, approved, rounds)
			if cancelled {
				return resultCancelled
			}
			if len(failing) == 0 {
				return o.complete(ctx, id, ws, false, "")
			}
			o.project.Update(func(s *project.State) {
				p := s.Progress(id)
				p.Feedback = append(p.Feedback, gateFeedback(rounds, failing))
			})
		}

		if retries >= o.policy.Retry.MaxGateRetries {
			break
		}
		retries++

		out := o.dispatchLoop(ctx, id, ws, 1, loopGate, nil)
		if out.stopped {
			return out.result
		}
		runGates = out.approved != nil
		if runGates {
			approved = out.approved
		}
	}
	return o.escalate(ctx, id, ws, approved, rounds)
}

// runGates runs every configured gate and records each result.
// Returns the failing results.
func (o *Orchestrator) runGates(ctx context.Context, id string, draft *models.Draft, round int) ([]models.GateResult, bool) {
	task := o.project.Task(id)
	kinds := task.Gates
	if len(kinds) == 0 {
		kinds = o.defaultGates
	}

	var failing []models.GateResult
	for _, kind := range kinds {
		gctx, cancel := context.WithTimeout(ctx, o.policy.Timeouts.Gate)
		res, err := o.gates.RunGate(gctx, task, draft.Clone(), kind)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, true
			}
			res = models.GateResult{Status: models.GateFail, Output: fmt.Sprintf("gate runner error: %v", err)}
		}
		res.Gate = kind
		if !res.Status.Valid() {
			res.Output = fmt.Sprintf("unknown gate status %q\n%s", res.Status, res.Output)
			res.Status = models.GateFail
		}

		o.project.Update(func(s *project.State) {
			if res.RanAt.IsZero() {
				res.RanAt = s.Now()
			}
			s.SetGateResult(id, res)
			s.Record(models.AuditExecution, id, "gate_"+string(kind), fmt.Sprintf("round %d: %s", round, res.Status))
		})
		o.events.Emit(OrchestratorEvent{Type: EventGateResult, TaskID: id, Gate: string(kind), Attempt: round, Message: string(res.Status)})

		if res.Failed() {
			failing = append(failing, res)
		}
	}
	return failing, false
}

// escalate asks the reviewer what to do once gate retries are exhausted.
// rounds is 0 when resuming an escalation; the recorded count is used instead.
func (o *Orchestrator) escalate(ctx context.Context, id string, ws *Workspace, approved *models.Draft, rounds int) taskResult {
	var task *models.Task
	var results []models.GateResult
	o.project.Update(func(s *project.State) {
		// The stored draft may be an unapproved retry; only the approved one may be accepted.
		s.SetDraft(approved)
		p := s.Progress(id)
		p.Stage = models.StageEscalation
		if rounds > 0 {
			p.GateRounds = rounds
		} else {
			rounds = p.GateRounds
		}
		task = s.Get(id).Clone()
		results = s.GateResultsFor(id)
	})

	decision, err := o.reviewer.ReviewGateFailure(ctx, task, approved.Clone(), results)
	if err != nil {
		if ctx.Err() != nil {
			return resultCancelled
		}
		decision = models.Decision{Verdict: models.VerdictPause, Feedback: fmt.Sprintf("reviewer error: %v", err)}
	}

	o.project.Update(func(s *project.State) {
		s.Record(models.AuditDecision, id, "gate_escalation_"+string(decision.Verdict),
			fmt.Sprintf("reviewer=%s: %s", reviewerName(decision), decision.Feedback))
	})
	o.events.Emit(OrchestratorEvent{Type: EventDecision, TaskID: id, Message: "gate escalation: " + string(decision.Verdict)})

	switch decision.Verdict {
	case models.VerdictApprove, models.VerdictOverride:
		return o.complete(ctx, id, ws, true, overrideDetail(results, decision))
	case models.VerdictReject:
		return o.reject(ctx, id, ws, decision, loopGate)
	}

	reason := fmt.Sprintf("task %s: gates still failing (%s) in gate loop", id, failingGateNames(results))
	if rounds > 0 {
		reason += fmt.Sprintf(" after %d round(s)", rounds)
	}
	reason += "; awaiting gate-failure decision"
	if decision.Feedback != "" {
		reason += ": " + decision.Feedback
	}
	return o.pause(ctx, id, models.StageEscalation, reason)
}

// complete marks a task DONE, promotes deferred work and checkpoints.
func (o *Orchestrator) complete(ctx context.Context, id string, ws *Workspace, override bool, detail string) taskResult {
	o.scheduler.MarkDone(id)
	o.project.Update(func(s *project.State) {
		if override {
			s.Record(models.AuditApproval, id, "gate_override", detail)
		} else {
			s.Record(models.AuditApproval, id, "approved", "artifact approved and all gates passed")
		}
		s.ClearProgress(id)
	})
	o.releaseWorkspace(ctx, id, ws)

	if promoted := o.mutations.MatchTriggers(id); len(promoted) > 0 {
		o.logger.Log("task %s done, promoted deferred tasks %v", id, promoted)
		o.events.Emit(OrchestratorEvent{Type: EventDeferredPromoted, TaskID: id, Promoted: promoted})
	}

	o.checkpoint(ctx, "task_"+id+"_done")
	msg := "approved"
	if override {
		msg = "gate override"
	}
	o.events.Emit(OrchestratorEvent{Type: EventTaskCompleted, TaskID: id, Message: msg})
	return resultDone
}

// reject fails the task and regresses the pipeline to decompose.
func (o *Orchestrator) reject(ctx context.Context, id string, ws *Workspace, decision models.Decision, loop string) taskResult {
	o.scheduler.MarkFailed(id)
	o.project.Update(func(s *project.State) {
		s.Record(models.AuditExecution, id, "rejected", fmt.Sprintf("%s loop: %s", loop, decision.Feedback))
		s.ClearProgress(id)
	})
	o.releaseWorkspace(ctx, id, ws)
	o.enterPhase(ctx, models.PhaseDecompose)

	o.events.Emit(OrchestratorEvent{Type: EventTaskFailed, TaskID: id, Message: decision.Feedback})
	return resultRejected
}

// pause records the blocked reason and the stage to resume from. The task
// stays IN_PROGRESS and keeps its workspace.
func (o *Orchestrator) pause(ctx context.Context, id string, stage models.Stage, reason string) taskResult {
	o.project.Update(func(s *project.State) {
		s.Progress(id).Stage = stage
		if t := s.Get(id); t != nil {
			t.Status = models.TaskStatusInProgress
		}
		full := reason
		if existing, ok := s.BlockedReason(); ok {
			full = existing + "; " + reason
		}
		s.Block(full)
	})
	o.logger.Task(id, stage, "paused: %s", reason)
	o.checkpoint(ctx, "paused_"+id)

	o.events.Emit(OrchestratorEvent{Type: EventTaskPaused, TaskID: id, Message: reason})
	return resultPaused
}

// ensureWorkspace returns the task's workspace, acquiring one on first dispatch.
func (o *Orchestrator) ensureWorkspace(ctx context.Context, id string) (*Workspace, error) {
	if o.workspaces == nil {
		return nil, nil
	}
	task := o.project.Task(id)
	if task.WorkspacePath != "" {
		return &Workspace{Path: task.WorkspacePath, Branch: task.BranchName}, nil
	}

	ws, err := o.workspaces.Acquire(ctx, task)
	if err != nil {
		return nil, err
	}
	o.project.Update(func(s *project.State) {
		if t := s.Get(id); t != nil {
			t.WorkspacePath = ws.Path
			t.BranchName = ws.Branch
		}
	})
	return ws, nil
}

// releaseWorkspace hands the workspace back. The branch name stays on the task.
func (o *Orchestrator) releaseWorkspace(ctx context.Context, id string, ws *Workspace) {
	if ws == nil || o.workspaces == nil {
		return
	}
	if err := o.workspaces.Release(context.WithoutCancel(ctx), ws); err != nil {
		log.Printf("[orchestrator] warning: failed to release workspace for %s: %v", id, err)
	}
	o.project.Update(func(s *project.State) {
		if t := s.Get(id); t != nil {
			t.WorkspacePath = ""
		}
	})
}

func gateFeedback(round int, failing []models.GateResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "gate round %d failed:", round)
	for _, r := range failing {
		fmt.Fprintf(&sb, "\n[%s] %s", r.Gate, truncate(strings.TrimSpace(r.Output), 1500))
	}
	return sb.String()
}

func failingGateNames(results []models.GateResult) string {
	var names []string
	for _, r := range results {
		if r.Failed() {
			names = append(names, string(r.Gate))
		}
	}
	if len(names) == 0 {
		return "none recorded"
	}
	return strings.Join(names, ", ")
}

func overrideDetail(results []models.GateResult, d models.Decision) string {
	detail := fmt.Sprintf("%s accepted failing gates (%s)", reviewerName(d), failingGateNames(results))
	if d.Feedback != "" {
		detail += ": " + d.Feedback
	}
	return detail
}

func reviewerName(d models.Decision) string {
	if d.Reviewer == "" {
		return "unnamed"
	}
	return d.Reviewer
}
