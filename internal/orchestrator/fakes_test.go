package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// fakeExecutor returns a one-file draft per call and records every package.
type fakeExecutor struct {
	mu       sync.Mutex
	packages []*models.ContextPackage
	// failFirst makes the first N calls for each task fail.
	failFirst int
	calls     map[string]int
	// block makes Execute wait for the context to end.
	block bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, pkg *models.ContextPackage) (*models.Draft, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[pkg.Task.ID]++
	call := f.calls[pkg.Task.ID]
	f.packages = append(f.packages, pkg)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	// Give batched workers a chance to overlap.
	time.Sleep(2 * time.Millisecond)

	if call <= f.failFirst {
		return nil, errors.New("executor unreachable")
	}
	return &models.Draft{
		Files:       map[string]string{pkg.Task.ID + ".go": fmt.Sprintf("// attempt %d", pkg.Attempt)},
		Explanation: "implemented " + pkg.Task.ID,
	}, nil
}

func (f *fakeExecutor) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeExecutor) packagesFor(id string) []*models.ContextPackage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ContextPackage
	for _, p := range f.packages {
		if p.Task.ID == id {
			out = append(out, p)
		}
	}
	return out
}

// scriptedReviewer returns queued verdicts per task, then its default.
type scriptedReviewer struct {
	mu          sync.Mutex
	script      map[string][]models.Verdict
	fallback    models.Verdict
	gateScript  []models.Verdict
	gateDefault models.Verdict
	reviews     map[string]int
	gateCalls   int
	// delay holds a task's review back before answering.
	delay map[string]time.Duration
}

func newReviewer() *scriptedReviewer {
	return &scriptedReviewer{
		script:      make(map[string][]models.Verdict),
		fallback:    models.VerdictApprove,
		gateDefault: models.VerdictPause,
		reviews:     make(map[string]int),
	}
}

func (r *scriptedReviewer) Review(ctx context.Context, task *models.Task, draft *models.Draft) (models.Decision, error) {
	if d := r.delay[task.ID]; d > 0 {
		time.Sleep(d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews[task.ID]++
	v := r.fallback
	if q := r.script[task.ID]; len(q) > 0 {
		v, r.script[task.ID] = q[0], q[1:]
	}
	return models.Decision{Verdict: v, Feedback: "feedback for " + task.ID, Reviewer: "test"}, nil
}

func (r *scriptedReviewer) ReviewGateFailure(ctx context.Context, task *models.Task, draft *models.Draft, results []models.GateResult) (models.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateCalls++
	v := r.gateDefault
	if len(r.gateScript) > 0 {
		v, r.gateScript = r.gateScript[0], r.gateScript[1:]
	}
	return models.Decision{Verdict: v, Reviewer: "human"}, nil
}

func (r *scriptedReviewer) reviewCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reviews[id]
}

// fakeGates fails a task's gate for its first N runs.
type fakeGates struct {
	mu       sync.Mutex
	failRuns map[models.GateKey]int
	runs     map[models.GateKey]int
}

func newGates() *fakeGates {
	return &fakeGates{failRuns: make(map[models.GateKey]int), runs: make(map[models.GateKey]int)}
}

func (g *fakeGates) failFor(taskID string, gate models.GateKind, n int) {
	g.failRuns[models.GateKey{TaskID: taskID, Gate: gate}] = n
}

func (g *fakeGates) RunGate(ctx context.Context, task *models.Task, draft *models.Draft, gate models.GateKind) (models.GateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := models.GateKey{TaskID: task.ID, Gate: gate}
	g.runs[key]++
	if g.runs[key] <= g.failRuns[key] {
		return models.GateResult{Status: models.GateFail, Output: "FAIL TestSomething"}, nil
	}
	return models.GateResult{Status: models.GatePass, Output: "ok"}, nil
}

// memCheckpointer keeps every saved snapshot by name.
type memCheckpointer struct {
	mu    sync.Mutex
	saved map[string]*project.Document
	order []string
}

func (m *memCheckpointer) Save(ctx context.Context, name string, doc *project.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]*project.Document)
	}
	m.saved[name] = doc
	m.saved["latest"] = doc
	m.order = append(m.order, name)
	return nil
}

// latest returns the document last saved as "latest".
func (m *memCheckpointer) latest() *project.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved["latest"]
}

// slowCheckpointer stalls the named saves before storing them.
type slowCheckpointer struct {
	memCheckpointer
	stall map[string]time.Duration
}

func (s *slowCheckpointer) Save(ctx context.Context, name string, doc *project.Document) error {
	time.Sleep(s.stall[name])
	return s.memCheckpointer.Save(ctx, name, doc)
}

func (m *memCheckpointer) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.saved[name]
	return ok
}

// fakeIntegration returns a fixed result.
type fakeIntegration struct {
	passed bool
	ids    []string
}

func (f *fakeIntegration) RunIntegration(ctx context.Context, taskIDs []string, ref string) (IntegrationResult, error) {
	f.ids = taskIDs
	return IntegrationResult{Passed: f.passed, Output: "integration " + ref}, nil
}

// fakeWorkspaces hands out numbered workspaces and tracks holders.
type fakeWorkspaces struct {
	mu       sync.Mutex
	next     int
	held     map[string]bool
	released []string
}

func (f *fakeWorkspaces) Acquire(ctx context.Context, task *models.Task) (*Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	f.next++
	ws := &Workspace{Path: fmt.Sprintf("/tmp/ws-%d", f.next), Branch: "foundry/" + task.ID}
	f.held[ws.Path] = true
	return ws, nil
}

func (f *fakeWorkspaces) CommitID(ctx context.Context, ws *Workspace) (string, error) {
	return "abc123", nil
}

func (f *fakeWorkspaces) Release(ctx context.Context, ws *Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, ws.Path)
	f.released = append(f.released, ws.Path)
	return nil
}

// fakeRecorder records run lifecycle calls.
type fakeRecorder struct {
	started  int
	outcomes []string
}

func (f *fakeRecorder) StartRun(ctx context.Context, strategy string) (string, error) {
	f.started++
	return fmt.Sprintf("run-%d", f.started), nil
}

func (f *fakeRecorder) FinishRun(ctx context.Context, runID, outcome, checkpoint string) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}
