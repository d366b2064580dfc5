// Package project holds the single authoritative pipeline state.
//
// Every read or write of tasks, drafts, gate results, audit entries, phase and
// blocked reason goes through a Project critical section. The scheduler and the
// mutation engine both operate inside those sections, so claim-then-mark and
// graph surgery are linearizable across workers.
package project

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foundry/pkg/models"
)

// Project is the aggregate root. The zero value is not usable; call New.
type Project struct {
	mu    sync.RWMutex
	state *State
}

// State is the mutable project state. It is only handed out inside Update or View,
// while the project lock is held.
type State struct {
	order []string
	tasks map[string]*models.Task

	drafts        map[string]*models.Draft
	gateResults   map[models.GateKey]models.GateResult
	audit         []models.AuditEntry
	progress      map[string]*models.TaskProgress
	phase         models.Phase
	blockedReason *string
	auditContext  string

	now func() time.Time
}

// New creates a project from an ordered task list.
// Tasks are stored as given; callers should not retain the pointers.
// A later task with a duplicate ID replaces the earlier one.
func New(tasks []*models.Task) *Project {
	s := newState()
	for _, t := range tasks {
		s.Put(t)
	}
	return &Project{state: s}
}

func newState() *State {
	return &State{
		tasks:       make(map[string]*models.Task),
		drafts:      make(map[string]*models.Draft),
		gateResults: make(map[models.GateKey]models.GateResult),
		progress:    make(map[string]*models.TaskProgress),
		phase:       models.PhaseIntake,
		now:         time.Now,
	}
}

// SetClock overrides the time source used for audit entries and completion stamps.
func (p *Project) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now != nil {
		p.state.now = now
	}
}

// Update runs fn with exclusive access to the state.
func (p *Project) Update(fn func(s *State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.state)
}

// View runs fn with shared read access to the state. fn must not mutate it.
func (p *Project) View(fn func(s *State)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.state)
}

// Task returns a copy of the task with the given ID, or nil.
func (p *Project) Task(id string) *models.Task {
	var t *models.Task
	p.View(func(s *State) { t = s.Get(id).Clone() })
	return t
}

// Tasks returns copies of all tasks in collection order.
func (p *Project) Tasks() []*models.Task {
	var out []*models.Task
	p.View(func(s *State) {
		out = make([]*models.Task, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.tasks[id].Clone())
		}
	})
	return out
}

// Phase returns the current pipeline phase.
func (p *Project) Phase() models.Phase {
	var ph models.Phase
	p.View(func(s *State) { ph = s.phase })
	return ph
}

// BlockedReason returns the reason the pipeline is paused, or "" and false.
func (p *Project) BlockedReason() (string, bool) {
	var reason string
	var ok bool
	p.View(func(s *State) {
		if s.blockedReason != nil {
			reason, ok = *s.blockedReason, true
		}
	})
	return reason, ok
}

// Draft returns a copy of the task's recorded draft, or nil.
func (p *Project) Draft(taskID string) *models.Draft {
	var d *models.Draft
	p.View(func(s *State) { d = s.drafts[taskID].Clone() })
	return d
}

// GateResult returns the recorded result for a task and gate.
func (p *Project) GateResult(taskID string, gate models.GateKind) (models.GateResult, bool) {
	var r models.GateResult
	var ok bool
	p.View(func(s *State) { r, ok = s.gateResults[models.GateKey{TaskID: taskID, Gate: gate}] })
	return r, ok
}

// AuditLog returns a copy of the audit log.
func (p *Project) AuditLog() []models.AuditEntry {
	var out []models.AuditEntry
	p.View(func(s *State) { out = append(out, s.audit...) })
	return out
}

// AuditContext returns the project-level context handed to executors.
func (p *Project) AuditContext() string {
	var c string
	p.View(func(s *State) { c = s.auditContext })
	return c
}

// Get returns the live task pointer, or nil.
func (s *State) Get(id string) *models.Task {
	return s.tasks[id]
}

// Has reports whether a task exists.
func (s *State) Has(id string) bool {
	_, ok := s.tasks[id]
	return ok
}

// IDs returns task IDs in collection order.
func (s *State) IDs() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of tasks.
func (s *State) Len() int {
	return len(s.order)
}

// Each calls fn for every task in collection order.
func (s *State) Each(fn func(t *models.Task)) {
	for _, id := range s.order {
		fn(s.tasks[id])
	}
}

// Put adds a task at the end of the collection, or replaces it in place if the ID exists.
func (s *State) Put(t *models.Task) {
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
}

// Replace swaps the task oldID for the given tasks at the same collection position,
// dropping oldID's draft, gate results and progress. Returns false if oldID does not exist.
func (s *State) Replace(oldID string, with ...*models.Task) bool {
	idx := -1
	for i, id := range s.order {
		if id == oldID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	delete(s.tasks, oldID)
	s.dropArtifacts(oldID)

	ids := make([]string, 0, len(with))
	for _, t := range with {
		s.tasks[t.ID] = t
		ids = append(ids, t.ID)
	}
	order := make([]string, 0, len(s.order)-1+len(ids))
	order = append(order, s.order[:idx]...)
	order = append(order, ids...)
	order = append(order, s.order[idx+1:]...)
	s.order = order
	return true
}

// Remove deletes a task together with its draft, gate results and progress.
func (s *State) Remove(id string) bool {
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.dropArtifacts(id)
	return true
}

func (s *State) dropArtifacts(id string) {
	delete(s.drafts, id)
	delete(s.progress, id)
	for key := range s.gateResults {
		if key.TaskID == id {
			delete(s.gateResults, key)
		}
	}
}

// Dependents returns IDs of tasks whose active dependencies include id, in collection order.
func (s *State) Dependents(id string) []string {
	var out []string
	for _, oid := range s.order {
		if s.tasks[oid].DependsOn(id) {
			out = append(out, oid)
		}
	}
	return out
}

// Draft returns the live draft for a task, or nil.
func (s *State) Draft(taskID string) *models.Draft {
	return s.drafts[taskID]
}

// SetDraft records the task's latest artifact.
func (s *State) SetDraft(d *models.Draft) {
	s.drafts[d.TaskID] = d
}

// GateResult returns the recorded result for a gate key.
func (s *State) GateResult(key models.GateKey) (models.GateResult, bool) {
	r, ok := s.gateResults[key]
	return r, ok
}

// SetGateResult records a gate outcome.
func (s *State) SetGateResult(taskID string, r models.GateResult) {
	s.gateResults[models.GateKey{TaskID: taskID, Gate: r.Gate}] = r
}

// GateResultsFor returns every recorded gate result for a task, sorted by gate kind.
func (s *State) GateResultsFor(taskID string) []models.GateResult {
	var out []models.GateResult
	for key, r := range s.gateResults {
		if key.TaskID == taskID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gate < out[j].Gate })
	return out
}

// Progress returns the task's state-machine bookkeeping, creating it if needed.
func (s *State) Progress(taskID string) *models.TaskProgress {
	p, ok := s.progress[taskID]
	if !ok {
		p = &models.TaskProgress{Stage: models.StageDispatch}
		s.progress[taskID] = p
	}
	return p
}

// ClearProgress forgets a task's bookkeeping once it reaches a terminal status.
func (s *State) ClearProgress(taskID string) {
	delete(s.progress, taskID)
}

// Phase returns the pipeline phase.
func (s *State) Phase() models.Phase {
	return s.phase
}

// SetPhase changes the phase and records the change. Returns the previous phase.
func (s *State) SetPhase(ph models.Phase) models.Phase {
	prev := s.phase
	if prev != ph {
		s.phase = ph
		s.Record(models.AuditPhase, "", "phase", string(prev)+" -> "+string(ph))
	}
	return prev
}

// Block records why the pipeline stopped.
func (s *State) Block(reason string) {
	s.blockedReason = &reason
}

// Unblock clears the blocked reason.
func (s *State) Unblock() {
	s.blockedReason = nil
}

// BlockedReason returns the recorded reason, or "" and false.
func (s *State) BlockedReason() (string, bool) {
	if s.blockedReason == nil {
		return "", false
	}
	return *s.blockedReason, true
}

// Blocked reports whether a blocked reason is recorded.
func (s *State) Blocked() bool {
	return s.blockedReason != nil
}

// AuditContext returns the project-level context.
func (s *State) AuditContext() string {
	return s.auditContext
}

// SetAuditContext replaces the project-level context.
func (s *State) SetAuditContext(c string) {
	s.auditContext = c
}

// Now returns the current time from the project clock.
func (s *State) Now() time.Time {
	return s.now()
}

// Record appends an audit entry.
func (s *State) Record(kind models.AuditKind, taskID, action, detail string) {
	s.audit = append(s.audit, models.AuditEntry{
		ID:        uuid.New().String(),
		Kind:      kind,
		TaskID:    taskID,
		Action:    action,
		Detail:    detail,
		Timestamp: s.now(),
	})
}
