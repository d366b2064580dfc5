package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/foundry/internal/graph"
	"github.com/ShayCichocki/foundry/internal/mutation"
	"github.com/ShayCichocki/foundry/internal/orchestrator/policy"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/internal/scheduler"
	"github.com/ShayCichocki/foundry/pkg/models"
)

var (
	// ErrBlocked is returned by Run while a blocked reason is recorded. Call Resume.
	ErrBlocked = errors.New("pipeline is blocked")
	// ErrInvalidGraph is returned when structural validation finds blocking issues.
	ErrInvalidGraph = errors.New("invalid task graph")
)

// Outcome summarizes how a Run ended.
type Outcome string

const (
	// OutcomeIntegrated means no eligible task remained and integration passed.
	OutcomeIntegrated Outcome = "integrated"
	// OutcomeIntegrationFailed means integration failed and the phase regressed to decompose.
	OutcomeIntegrationFailed Outcome = "integration_failed"
	// OutcomeBlocked means the pipeline paused awaiting an external decision.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeRejected means a reviewer rejected a task and re-planning is needed.
	OutcomeRejected Outcome = "rejected"
	// OutcomeCancelled means the context ended before the pipeline settled.
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes the state Run left the pipeline in.
type Result struct {
	Outcome       Outcome
	Phase         models.Phase
	BlockedReason string
	RunID         string
	// Issues lists structural problems when Run refused to start.
	Issues []graph.Issue
	// IntegrationOutput is the integration runner's output, if it ran.
	IntegrationOutput string
}

// Orchestrator drives tasks through dispatch, review, gates and escalation.
type Orchestrator struct {
	project   *project.Project
	executor  Executor
	reviewer  Reviewer
	gates     GateRunner
	mutations *mutation.Engine

	integration    IntegrationRunner
	integrationRef string
	workspaces     WorkspaceManager
	checkpointer   Checkpointer
	recorder       RunRecorder
	defaultGates   []models.GateKind

	policy *policy.Config
	logger *DebugLogger
	events *EventEmitter

	// scheduler is rebuilt on every Run so its sets match current statuses.
	scheduler *scheduler.Scheduler

	// saveMu holds snapshot and Save together so checkpoints land in snapshot order.
	saveMu sync.Mutex

	mu             sync.Mutex
	lastCheckpoint string
}

// New creates an orchestrator from its required collaborators and options.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Project == nil {
		return nil, errors.New("orchestrator requires a project")
	}
	if req.Executor == nil || req.Reviewer == nil || req.Gates == nil {
		return nil, errors.New("orchestrator requires an executor, a reviewer and a gate runner")
	}

	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	pol := o.policyConfig
	if pol == nil {
		pol = policy.Default()
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}
	setPackageLogger(logger)

	orch := &Orchestrator{
		project:        req.Project,
		executor:       req.Executor,
		reviewer:       req.Reviewer,
		gates:          req.Gates,
		mutations:      mutation.New(req.Project),
		integration:    o.integration,
		integrationRef: o.integrationRef,
		workspaces:     o.workspaces,
		checkpointer:   o.checkpointer,
		recorder:       o.recorder,
		defaultGates:   o.defaultGates,
		policy:         pol,
		logger:         logger,
	}
	orch.mutations.SetDebugLog(debugLog)
	if o.eventBuffer > 0 {
		orch.events = NewEventEmitter(o.eventBuffer)
	}
	return orch, nil
}

// Events returns the event stream, or nil if WithEvents was not given.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	if o.events == nil {
		return nil
	}
	return o.events.Events()
}

// Close closes the event stream.
func (o *Orchestrator) Close() {
	o.events.Close()
}

// Project returns the project the orchestrator drives.
func (o *Orchestrator) Project() *project.Project {
	return o.project
}

// Mutations returns the mutation engine bound to the project.
func (o *Orchestrator) Mutations() *mutation.Engine {
	return o.mutations
}

// LastCheckpoint returns the name of the most recent successful checkpoint.
func (o *Orchestrator) LastCheckpoint() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCheckpoint
}

// Resume clears the blocked reason and runs the pipeline again.
// Paused tasks continue from their recorded stage with drafts and feedback intact;
// retry budgets start fresh.
func (o *Orchestrator) Resume(ctx context.Context) (*Result, error) {
	o.project.Update(func(s *project.State) {
		if reason, ok := s.BlockedReason(); ok {
			s.Unblock()
			s.Record(models.AuditDecision, "", "resume", "cleared: "+reason)
		}
	})
	o.logger.Log("Resume() cleared blocked reason")
	return o.Run(ctx)
}

// Run drives every eligible task to a terminal per-iteration outcome and then
// runs the integration check. It returns early on a pause or a rejection.
func (o *Orchestrator) Run(ctx context.Context) (res *Result, err error) {
	if reason, blocked := o.project.BlockedReason(); blocked {
		return o.result(OutcomeBlocked, ""), fmt.Errorf("%w: %s", ErrBlocked, reason)
	}

	strategy := o.policy.Concurrency.Strategy
	o.logger.Log("Run() started: strategy=%s max_revisions=%d max_gate_retries=%d",
		strategy, o.policy.Retry.MaxRevisions, o.policy.Retry.MaxGateRetries)

	var runID string
	if o.recorder != nil {
		id, rerr := o.recorder.StartRun(ctx, string(strategy))
		if rerr != nil {
			log.Printf("[orchestrator] warning: failed to record run start: %v", rerr)
		}
		runID = id
	}
	defer func() {
		if res != nil {
			res.RunID = runID
		}
		if o.recorder != nil && runID != "" {
			outcome := string(OutcomeCancelled)
			if res != nil {
				outcome = string(res.Outcome)
			}
			if ferr := o.recorder.FinishRun(context.WithoutCancel(ctx), runID, outcome, o.LastCheckpoint()); ferr != nil {
				log.Printf("[orchestrator] warning: failed to record run finish: %v", ferr)
			}
		}
		o.events.Emit(OrchestratorEvent{Type: EventRunDone, Message: resultMessage(res, err)})
	}()

	g := graph.New()
	g.SetDebugLog(debugLog)
	if issues := g.Validate(o.project.Tasks()); len(issues) > 0 {
		reason := invalidGraphReason(issues)
		o.project.Update(func(s *project.State) { s.Block(reason) })
		o.checkpoint(ctx, "invalid_graph")
		r := o.result(OutcomeBlocked, "")
		r.Issues = issues
		return r, fmt.Errorf("%w: %d issue(s)", ErrInvalidGraph, len(issues))
	}

	o.enterPhase(ctx, models.PhaseExecute)

	o.scheduler = scheduler.New(o.project)
	o.scheduler.SetDebugLog(debugLog)

	var outcome Outcome
	if strategy == policy.StrategyBatched {
		outcome, err = o.runBatched(ctx)
	} else {
		outcome, err = o.runSequential(ctx)
	}
	if err != nil {
		o.checkpoint(ctx, "interrupted")
		return o.result(OutcomeCancelled, ""), err
	}
	if outcome != "" {
		return o.result(outcome, ""), nil
	}

	outcome, output := o.integrate(ctx)
	return o.result(outcome, output), nil
}

// runSequential dispatches one task at a time. An empty outcome means the loop
// drained and integration should run.
func (o *Orchestrator) runSequential(ctx context.Context) (Outcome, error) {
	carried := o.scheduler.Claimed()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var id string
		if len(carried) > 0 {
			id, carried = carried[0], carried[1:]
		} else if next := o.scheduler.ClaimNext(); next != nil {
			id = next.ID
		} else {
			return "", nil
		}

		switch o.runTask(ctx, id) {
		case resultPaused:
			return OutcomeBlocked, nil
		case resultRejected:
			return OutcomeRejected, nil
		case resultCancelled:
			return "", ctx.Err()
		}
	}
}

// runBatched fans every ready batch out to at most MaxWorkers goroutines and
// waits for the whole batch before computing the next one.
func (o *Orchestrator) runBatched(ctx context.Context) (Outcome, error) {
	carried := o.scheduler.Claimed()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		ids := carried
		carried = nil
		for _, t := range o.scheduler.GetReadyBatch() {
			ids = append(ids, t.ID)
		}
		if len(ids) == 0 {
			return "", nil
		}
		o.logger.Log("[runBatched] dispatching batch %v", ids)

		results := make([]taskResult, len(ids))
		var g errgroup.Group
		g.SetLimit(o.policy.Concurrency.MaxWorkers)
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				results[i] = o.runTask(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		var paused, rejected, cancelled bool
		for _, r := range results {
			switch r {
			case resultPaused:
				paused = true
			case resultRejected:
				rejected = true
			case resultCancelled:
				cancelled = true
			}
		}
		switch {
		case rejected:
			return OutcomeRejected, nil
		case paused:
			return OutcomeBlocked, nil
		case cancelled:
			return "", ctx.Err()
		}
	}
}

// integrate runs the final cross-task check. Task statuses are never touched here.
func (o *Orchestrator) integrate(ctx context.Context) (Outcome, string) {
	if !o.scheduler.AllDone() {
		log.Printf("[orchestrator] warning: integrating with tasks still pending behind failed dependencies")
	}

	var ids []string
	o.project.View(func(s *project.State) { ids = s.IDs() })

	passed, output := true, "no integration runner configured"
	if o.integration != nil {
		ictx, cancel := context.WithTimeout(ctx, o.policy.Timeouts.Integration)
		res, err := o.integration.RunIntegration(ictx, ids, o.integrationRef)
		cancel()
		if err != nil {
			passed, output = false, fmt.Sprintf("integration runner error: %v", err)
		} else {
			passed, output = res.Passed, res.Output
		}
	}

	next := models.PhaseIntegrate
	action := "integration_passed"
	if !passed {
		next = models.PhaseDecompose
		action = "integration_failed"
	}
	o.project.Update(func(s *project.State) {
		s.Record(models.AuditExecution, "", action, truncate(output, 2000))
	})
	o.enterPhase(ctx, next)

	if passed {
		o.events.Emit(OrchestratorEvent{Type: EventIntegrationPassed, Message: output})
		return OutcomeIntegrated, output
	}
	o.events.Emit(OrchestratorEvent{Type: EventIntegrationFailed, Message: output})
	return OutcomeIntegrationFailed, output
}

// enterPhase moves the pipeline to ph and checkpoints the boundary.
func (o *Orchestrator) enterPhase(ctx context.Context, ph models.Phase) {
	var prev models.Phase
	o.project.Update(func(s *project.State) { prev = s.SetPhase(ph) })
	if prev != ph {
		o.logger.Log("phase %s -> %s", prev, ph)
		o.checkpoint(ctx, "after_"+string(prev))
	}
}

// checkpoint persists a snapshot under name (and "latest"). Saves from
// concurrent workers are serialized. Failures are logged; the in-memory state
// stays authoritative.
func (o *Orchestrator) checkpoint(ctx context.Context, name string) {
	if o.checkpointer == nil {
		return
	}
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	if err := o.checkpointer.Save(context.WithoutCancel(ctx), name, o.project.Snapshot()); err != nil {
		log.Printf("[orchestrator] warning: checkpoint %s failed: %v", name, err)
		return
	}
	o.mu.Lock()
	o.lastCheckpoint = name
	o.mu.Unlock()
	o.logger.Log("checkpoint %s saved", name)
}

func (o *Orchestrator) result(outcome Outcome, output string) *Result {
	r := &Result{Outcome: outcome, Phase: o.project.Phase(), IntegrationOutput: output}
	r.BlockedReason, _ = o.project.BlockedReason()
	return r
}

func invalidGraphReason(issues []graph.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.String())
	}
	return "invalid task graph: " + strings.Join(parts, "; ")
}

func resultMessage(res *Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res == nil {
		return ""
	}
	return string(res.Outcome)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
