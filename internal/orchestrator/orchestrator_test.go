package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/foundry/internal/orchestrator/policy"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Title: "task " + id, Status: models.TaskStatusPending, Dependencies: deps}
}

func testPolicy(maxRevisions, maxGateRetries int) *policy.Config {
	p := policy.Default()
	p.Retry.MaxRevisions = maxRevisions
	p.Retry.MaxGateRetries = maxGateRetries
	p.Timeouts.Executor = 2 * time.Second
	p.Timeouts.Gate = 2 * time.Second
	p.Timeouts.Integration = 2 * time.Second
	return p
}

type harness struct {
	orch     *Orchestrator
	project  *project.Project
	executor *fakeExecutor
	reviewer *scriptedReviewer
	gates    *fakeGates
	ckpt     *memCheckpointer
}

func newHarness(t *testing.T, tasks []*models.Task, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		project:  project.New(tasks),
		executor: &fakeExecutor{},
		reviewer: newReviewer(),
		gates:    newGates(),
		ckpt:     &memCheckpointer{},
	}
	opts = append([]Option{
		WithPolicy(testPolicy(3, 2)),
		WithCheckpointer(h.ckpt),
		WithDefaultGates(models.GateTest),
	}, opts...)
	orch, err := New(RequiredConfig{
		Project:  h.project,
		Executor: h.executor,
		Reviewer: h.reviewer,
		Gates:    h.gates,
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) status(id string) models.TaskStatus {
	return h.project.Task(id).Status
}

func hasAudit(p *project.Project, taskID, action string) bool {
	for _, e := range p.AuditLog() {
		if e.TaskID == taskID && e.Action == action {
			return true
		}
	}
	return false
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(RequiredConfig{}); err == nil {
		t.Error("New() with no project should fail")
	}
	if _, err := New(RequiredConfig{Project: project.New(nil)}); err == nil {
		t.Error("New() with no executor should fail")
	}
}

func TestRun_GateFailsOnceThenPasses(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")})
	h.gates.failFor("T1", models.GateTest, 1)

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeIntegrated {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeIntegrated)
	}
	if got := h.status("T1"); got != models.TaskStatusDone {
		t.Errorf("T1 status = %s, want done", got)
	}
	if got := h.executor.callCount("T1"); got != 2 {
		t.Errorf("executor calls = %d, want 2", got)
	}

	pkgs := h.executor.packagesFor("T1")
	if len(pkgs) != 2 {
		t.Fatalf("packages = %d, want 2", len(pkgs))
	}
	if pkgs[1].Attempt != 2 {
		t.Errorf("second attempt = %d, want 2", pkgs[1].Attempt)
	}
	if len(pkgs[1].Feedback) == 0 || !strings.Contains(pkgs[1].Feedback[0], "gate round 1 failed") {
		t.Errorf("retry feedback = %v, want gate failure output", pkgs[1].Feedback)
	}
	if pkgs[1].PreviousDraft == nil || pkgs[1].PreviousDraft.Attempt != 1 {
		t.Errorf("retry should carry the previous draft")
	}

	if r, ok := h.project.GateResult("T1", models.GateTest); !ok || r.Status != models.GatePass {
		t.Errorf("recorded gate result = %+v, want pass", r)
	}
	if !h.ckpt.has("task_T1_done") {
		t.Errorf("expected checkpoint task_T1_done, got %v", h.ckpt.order)
	}
	if !hasAudit(h.project, "T1", "approved") {
		t.Error("expected an approved audit entry")
	}
}

func TestRun_MaxRevisionsPauses(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")}, WithPolicy(testPolicy(2, 2)))
	h.reviewer.fallback = models.VerdictRevise

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Errorf("Outcome = %s, want blocked", res.Outcome)
	}
	if got := h.reviewer.reviewCount("T1"); got != 3 {
		t.Errorf("reviews = %d, want 3", got)
	}
	if got := h.status("T1"); got != models.TaskStatusInProgress {
		t.Errorf("T1 status = %s, want in_progress", got)
	}
	if res.Phase != models.PhaseExecute {
		t.Errorf("Phase = %s, want execute", res.Phase)
	}
	for _, want := range []string{"T1", "revision loop", "3 attempt"} {
		if !strings.Contains(res.BlockedReason, want) {
			t.Errorf("BlockedReason = %q, want it to mention %q", res.BlockedReason, want)
		}
	}

	pkgs := h.executor.packagesFor("T1")
	if got := len(pkgs[2].Feedback); got != 2 {
		t.Errorf("third attempt feedback entries = %d, want 2", got)
	}
	if !h.ckpt.has("paused_T1") {
		t.Errorf("expected checkpoint paused_T1, got %v", h.ckpt.order)
	}

	if _, err := h.orch.Run(context.Background()); !errors.Is(err, ErrBlocked) {
		t.Errorf("second Run() error = %v, want ErrBlocked", err)
	}
}

func TestRun_RejectRegressesToDecompose(t *testing.T) {
	h := newHarness(t, []*models.Task{task("A"), task("B")})
	h.reviewer.script["A"] = []models.Verdict{models.VerdictReject}

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %s, want rejected", res.Outcome)
	}
	if got := h.status("A"); got != models.TaskStatusFailed {
		t.Errorf("A status = %s, want failed", got)
	}
	if res.Phase != models.PhaseDecompose {
		t.Errorf("Phase = %s, want decompose", res.Phase)
	}
	if got := h.status("B"); got != models.TaskStatusPending {
		t.Errorf("B status = %s, want pending", got)
	}
	if got := h.executor.callCount("B"); got != 0 {
		t.Errorf("B dispatched %d times, want 0", got)
	}
}

func TestResume_ReviewsStoredDraft(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")})
	h.reviewer.script["T1"] = []models.Verdict{models.VerdictPause}

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("Outcome = %s, want blocked", res.Outcome)
	}
	if !strings.Contains(res.BlockedReason, "paused by test reviewer") {
		t.Errorf("BlockedReason = %q", res.BlockedReason)
	}

	res, err = h.orch.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if res.Outcome != OutcomeIntegrated {
		t.Errorf("Outcome = %s, want integrated", res.Outcome)
	}
	if got := h.executor.callCount("T1"); got != 1 {
		t.Errorf("executor calls = %d, want 1 (stored draft reused)", got)
	}
	if got := h.reviewer.reviewCount("T1"); got != 2 {
		t.Errorf("reviews = %d, want 2", got)
	}
	if got := h.status("T1"); got != models.TaskStatusDone {
		t.Errorf("T1 status = %s, want done", got)
	}
	if _, blocked := h.project.BlockedReason(); blocked {
		t.Error("blocked reason should be cleared")
	}
	if !hasAudit(h.project, "", "resume") {
		t.Error("expected a resume audit entry")
	}
}

func TestResume_GateEscalationOverride(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")}, WithPolicy(testPolicy(3, 1)))
	h.gates.failFor("T1", models.GateTest, 100)

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("Outcome = %s, want blocked", res.Outcome)
	}
	for _, want := range []string{"T1", "gate loop", "test", "2 round(s)"} {
		if !strings.Contains(res.BlockedReason, want) {
			t.Errorf("BlockedReason = %q, want it to mention %q", res.BlockedReason, want)
		}
	}
	if got := h.executor.callCount("T1"); got != 2 {
		t.Errorf("executor calls = %d, want 2", got)
	}

	h.reviewer.gateScript = []models.Verdict{models.VerdictOverride}
	res, err = h.orch.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if res.Outcome != OutcomeIntegrated {
		t.Errorf("Outcome = %s, want integrated", res.Outcome)
	}
	if got := h.status("T1"); got != models.TaskStatusDone {
		t.Errorf("T1 status = %s, want done", got)
	}
	if got := h.executor.callCount("T1"); got != 2 {
		t.Errorf("executor calls after resume = %d, want 2", got)
	}
	if !hasAudit(h.project, "T1", "gate_override") {
		t.Error("expected a gate_override audit entry")
	}
	if r, _ := h.project.GateResult("T1", models.GateTest); r.Status != models.GateFail {
		t.Errorf("gate result = %s, want the failing result kept", r.Status)
	}
}

func TestResume_RepeatedEscalationKeepsRoundCount(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")}, WithPolicy(testPolicy(3, 1)))
	h.gates.failFor("T1", models.GateTest, 100)

	if _, err := h.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res, err := h.orch.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("Outcome = %s, want blocked", res.Outcome)
	}
	if !strings.Contains(res.BlockedReason, "after 2 round(s)") {
		t.Errorf("BlockedReason = %q, want the exhausted round count", res.BlockedReason)
	}
	if got := h.executor.callCount("T1"); got != 2 {
		t.Errorf("executor calls = %d, want 2 (no re-dispatch on resume)", got)
	}
	if p := h.project.Snapshot().Progress["T1"]; p == nil || p.GateRounds != 2 {
		t.Errorf("progress = %+v, want GateRounds 2", p)
	}
}

func TestRun_GateEscalationReject(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")}, WithPolicy(testPolicy(3, 0)))
	h.gates.failFor("T1", models.GateTest, 100)
	h.reviewer.gateScript = []models.Verdict{models.VerdictReject}

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %s, want rejected", res.Outcome)
	}
	if got := h.status("T1"); got != models.TaskStatusFailed {
		t.Errorf("T1 status = %s, want failed", got)
	}
	if res.Phase != models.PhaseDecompose {
		t.Errorf("Phase = %s, want decompose", res.Phase)
	}
}

func TestRun_ExecutorErrorsConsumeAttempts(t *testing.T) {
	h := newHarness(t, []*models.Task{task("T1")}, WithPolicy(testPolicy(1, 2)))
	h.executor.failFirst = 100

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Errorf("Outcome = %s, want blocked", res.Outcome)
	}
	if got := h.executor.callCount("T1"); got != 2 {
		t.Errorf("executor calls = %d, want 2", got)
	}
	if got := h.reviewer.reviewCount("T1"); got != 0 {
		t.Errorf("reviews = %d, want 0", got)
	}
	if !strings.Contains(res.BlockedReason, "2 attempt(s)") {
		t.Errorf("BlockedReason = %q", res.BlockedReason)
	}
	if !hasAudit(h.project, "T1", "dispatch_failed") {
		t.Error("expected a dispatch_failed audit entry")
	}
}

func TestRun_ExecutorTimeout(t *testing.T) {
	pol := testPolicy(0, 0)
	pol.Timeouts.Executor = 20 * time.Millisecond
	h := newHarness(t, []*models.Task{task("T1")}, WithPolicy(pol))
	h.executor.block = true

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Errorf("Outcome = %s, want blocked", res.Outcome)
	}

	var fb []string
	h.project.View(func(s *project.State) { fb = append(fb, s.Progress("T1").Feedback...) })
	if len(fb) != 1 || !strings.Contains(fb[0], "timed out") {
		t.Errorf("feedback = %v, want a timeout entry", fb)
	}
}

func TestRun_DiamondPassesDependencyOutputs(t *testing.T) {
	integ := &fakeIntegration{passed: true}
	h := newHarness(t, []*models.Task{
		task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C"),
	}, WithIntegration(integ, "make check"))

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeIntegrated || res.Phase != models.PhaseIntegrate {
		t.Errorf("result = %s/%s, want integrated/integrate", res.Outcome, res.Phase)
	}
	if res.IntegrationOutput != "integration make check" {
		t.Errorf("IntegrationOutput = %q", res.IntegrationOutput)
	}
	if len(integ.ids) != 4 {
		t.Errorf("integration saw %v, want all four tasks", integ.ids)
	}

	pkg := h.executor.packagesFor("D")[0]
	for _, dep := range []string{"B", "C"} {
		if pkg.DependencyOutputs[dep] == nil {
			t.Errorf("D package missing output of %s", dep)
		}
	}
	if _, ok := pkg.DependencyOutputs["A"]; ok {
		t.Error("D package should only carry direct dependencies")
	}

	for _, name := range []string{"after_intake", "after_execute", "latest"} {
		if !h.ckpt.has(name) {
			t.Errorf("missing checkpoint %s (saved %v)", name, h.ckpt.order)
		}
	}
	if got := h.orch.LastCheckpoint(); got != "after_execute" {
		t.Errorf("LastCheckpoint() = %q, want after_execute", got)
	}
}

func TestRun_IntegrationFailureRegresses(t *testing.T) {
	h := newHarness(t, []*models.Task{task("A"), task("B", "A")}, WithIntegration(&fakeIntegration{passed: false}, ""))

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeIntegrationFailed {
		t.Errorf("Outcome = %s, want integration_failed", res.Outcome)
	}
	if res.Phase != models.PhaseDecompose {
		t.Errorf("Phase = %s, want decompose", res.Phase)
	}
	for _, id := range []string{"A", "B"} {
		if got := h.status(id); got != models.TaskStatusDone {
			t.Errorf("%s status = %s, want done", id, got)
		}
	}
}

func TestRun_BatchedRespectsMaxWorkers(t *testing.T) {
	pol := testPolicy(3, 2)
	pol.Concurrency.Strategy = policy.StrategyBatched
	pol.Concurrency.MaxWorkers = 2

	tasks := []*models.Task{task("A"), task("B"), task("C"), task("D"), task("E"), task("F", "A", "B")}
	h := newHarness(t, tasks, WithPolicy(pol))

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeIntegrated {
		t.Errorf("Outcome = %s, want integrated", res.Outcome)
	}
	for _, tk := range tasks {
		if got := h.status(tk.ID); got != models.TaskStatusDone {
			t.Errorf("%s status = %s, want done", tk.ID, got)
		}
	}
	if got := h.executor.maxInFlight.Load(); got > 2 {
		t.Errorf("max concurrent executions = %d, want <= 2", got)
	}
}

func TestRun_BatchedPauseWaitsForBatch(t *testing.T) {
	pol := testPolicy(3, 2)
	pol.Concurrency.Strategy = policy.StrategyBatched
	h := newHarness(t, []*models.Task{task("A"), task("B"), task("C", "A", "B")}, WithPolicy(pol))
	h.reviewer.script["A"] = []models.Verdict{models.VerdictPause}

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Errorf("Outcome = %s, want blocked", res.Outcome)
	}
	if got := h.status("B"); got != models.TaskStatusDone {
		t.Errorf("B status = %s, want done (same batch)", got)
	}
	if got := h.status("C"); got != models.TaskStatusPending {
		t.Errorf("C status = %s, want pending", got)
	}
}

func TestRun_BatchedCheckpointsLandInOrder(t *testing.T) {
	pol := testPolicy(3, 2)
	pol.Concurrency.Strategy = policy.StrategyBatched
	ckpt := &slowCheckpointer{stall: map[string]time.Duration{"task_A_done": 300 * time.Millisecond}}
	h := newHarness(t, []*models.Task{task("A"), task("B")}, WithPolicy(pol), WithCheckpointer(ckpt))
	h.reviewer.script["B"] = []models.Verdict{models.VerdictPause}
	h.reviewer.delay = map[string]time.Duration{"B": 100 * time.Millisecond}

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("Outcome = %s, want blocked", res.Outcome)
	}

	latest := ckpt.latest()
	if latest == nil {
		t.Fatal("no latest checkpoint saved")
	}
	if latest.BlockedReason == nil || !strings.Contains(*latest.BlockedReason, "task B") {
		t.Errorf("latest blocked_reason = %v, want the pause of B", latest.BlockedReason)
	}
	if p := latest.Progress["B"]; p == nil || p.Stage != models.StageReview {
		t.Errorf("latest progress for B = %+v, want stage review", p)
	}
	for _, tk := range latest.Tasks {
		if tk.ID == "A" && tk.Status != models.TaskStatusDone {
			t.Errorf("latest A status = %s, want done", tk.Status)
		}
	}
	pos := map[string]int{}
	for i, name := range ckpt.order {
		pos[name] = i
	}
	if pos["paused_B"] < pos["task_A_done"] {
		t.Errorf("save order = %v, want paused_B after task_A_done", ckpt.order)
	}
}

func TestRun_InvalidGraph(t *testing.T) {
	h := newHarness(t, []*models.Task{task("A", "missing")})

	res, err := h.orch.Run(context.Background())
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("Run() error = %v, want ErrInvalidGraph", err)
	}
	if len(res.Issues) == 0 {
		t.Error("expected validation issues")
	}
	if !strings.Contains(res.BlockedReason, "missing") {
		t.Errorf("BlockedReason = %q, want it to name the dangling id", res.BlockedReason)
	}
	if got := h.executor.callCount("A"); got != 0 {
		t.Errorf("A dispatched %d times, want 0", got)
	}
	if !h.ckpt.has("invalid_graph") {
		t.Error("expected invalid_graph checkpoint")
	}

	if _, err := h.orch.Run(context.Background()); !errors.Is(err, ErrBlocked) {
		t.Errorf("second Run() error = %v, want ErrBlocked", err)
	}
}

func TestRun_CompletionPromotesDeferred(t *testing.T) {
	deferred := task("X")
	deferred.Status = models.TaskStatusDeferred
	deferred.DeferTrigger = &models.Trigger{TaskID: "A", Condition: "ships"}

	h := newHarness(t, []*models.Task{task("A"), deferred}, WithEvents(64))

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	h.orch.Close()

	if res.Outcome != OutcomeIntegrated {
		t.Errorf("Outcome = %s, want integrated", res.Outcome)
	}
	if got := h.status("X"); got != models.TaskStatusDone {
		t.Errorf("X status = %s, want done after promotion", got)
	}

	var promoted []string
	for ev := range h.orch.Events() {
		if ev.Type == EventDeferredPromoted {
			promoted = ev.Promoted
		}
	}
	if len(promoted) != 1 || promoted[0] != "X" {
		t.Errorf("promoted event = %v, want [X]", promoted)
	}
}

func TestRun_WorkspaceLifecycle(t *testing.T) {
	ws := &fakeWorkspaces{}
	rec := &fakeRecorder{}
	h := newHarness(t, []*models.Task{task("T1")}, WithWorkspaces(ws), WithRunRecorder(rec))

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := h.project.Task("T1")
	if got.WorkspacePath != "" {
		t.Errorf("WorkspacePath = %q, want cleared after done", got.WorkspacePath)
	}
	if got.BranchName != "foundry/T1" {
		t.Errorf("BranchName = %q, want foundry/T1", got.BranchName)
	}
	if d := h.project.Draft("T1"); d == nil || d.CommitID != "abc123" {
		t.Errorf("draft commit = %+v, want abc123", d)
	}
	if len(ws.released) != 1 || len(ws.held) != 0 {
		t.Errorf("released = %v held = %v", ws.released, ws.held)
	}

	if res.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", res.RunID)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != string(OutcomeIntegrated) {
		t.Errorf("recorded outcomes = %v", rec.outcomes)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, []*models.Task{task("A")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", res.Outcome)
	}
	if !h.ckpt.has("interrupted") {
		t.Error("expected interrupted checkpoint")
	}
}
