// Package scheduler computes dispatchable batches from the project's dependency graph.
package scheduler

import (
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Scheduler owns the done, failed and claimed bookkeeping for one project.
// Its sets are only touched inside project critical sections, so the project
// lock is the single synchronization point shared with the mutation engine.
type Scheduler struct {
	project *project.Project
	// done holds IDs whose completion satisfies dependents.
	done map[string]bool
	// failed holds IDs that permanently block their dependents.
	failed map[string]bool
	// claimed holds IDs handed out and not yet marked.
	claimed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a scheduler over the project, seeding its sets from task statuses.
// Tasks already IN_PROGRESS or IN_REVIEW are treated as claimed, so a resumed
// project never hands them out a second time.
func New(p *project.Project) *Scheduler {
	s := &Scheduler{
		project:  p,
		done:     make(map[string]bool),
		failed:   make(map[string]bool),
		claimed:  make(map[string]bool),
		debugLog: func(format string, args ...interface{}) {},
	}
	p.View(func(st *project.State) {
		st.Each(func(t *models.Task) {
			switch t.Status {
			case models.TaskStatusDone:
				s.done[t.ID] = true
			case models.TaskStatusFailed:
				s.failed[t.ID] = true
			case models.TaskStatusInProgress, models.TaskStatusInReview:
				s.claimed[t.ID] = true
			}
		})
	})
	return s
}

// SetDebugLog sets the debug logging function.
func (s *Scheduler) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// GetReadyBatch claims and returns every PENDING, unclaimed task whose
// dependencies are all done. Claimed tasks move to IN_PROGRESS, so a second
// call before any MarkDone or MarkFailed returns a disjoint set.
func (s *Scheduler) GetReadyBatch() []*models.Task {
	var batch []*models.Task
	s.project.Update(func(st *project.State) {
		st.Each(func(t *models.Task) {
			if s.readyLocked(t) {
				batch = append(batch, s.claimLocked(t))
			}
		})
	})
	s.debugLog("[scheduler] ready batch: %v", taskIDs(batch))
	return batch
}

// ClaimNext claims and returns the first ready task in collection order, or nil.
func (s *Scheduler) ClaimNext() *models.Task {
	var next *models.Task
	s.project.Update(func(st *project.State) {
		for _, id := range st.IDs() {
			if t := st.Get(id); s.readyLocked(t) {
				next = s.claimLocked(t)
				return
			}
		}
	})
	if next != nil {
		s.debugLog("[scheduler] claimed %s", next.ID)
	}
	return next
}

func (s *Scheduler) readyLocked(t *models.Task) bool {
	if t.Status != models.TaskStatusPending || s.claimed[t.ID] {
		return false
	}
	for _, dep := range t.Dependencies {
		if !s.done[dep] {
			return false
		}
	}
	return true
}

func (s *Scheduler) claimLocked(t *models.Task) *models.Task {
	t.Status = models.TaskStatusInProgress
	s.claimed[t.ID] = true
	return t.Clone()
}

// MarkDone moves a task from the claim set into done and sets its status.
// Unknown IDs only update the bookkeeping.
func (s *Scheduler) MarkDone(id string) {
	s.project.Update(func(st *project.State) {
		delete(s.claimed, id)
		delete(s.failed, id)
		s.done[id] = true
		if t := st.Get(id); t != nil {
			now := st.Now()
			t.Status = models.TaskStatusDone
			t.CompletedAt = &now
		}
	})
	s.debugLog("[scheduler] done %s", id)
}

// MarkFailed moves a task from the claim set into failed and sets its status.
// Dependents stay blocked until the graph is mutated.
func (s *Scheduler) MarkFailed(id string) {
	s.project.Update(func(st *project.State) {
		delete(s.claimed, id)
		delete(s.done, id)
		s.failed[id] = true
		if t := st.Get(id); t != nil {
			t.Status = models.TaskStatusFailed
		}
	})
	s.debugLog("[scheduler] failed %s", id)
}

// Unclaim drops a task from the claim set without changing its status.
// The mutation engine's Defer and Terminate leave claimed tasks claimed, so the
// orchestrator calls this when an in-flight task is taken away.
func (s *Scheduler) Unclaim(id string) {
	s.project.Update(func(st *project.State) {
		delete(s.claimed, id)
	})
}

// AllDone reports whether no task is PENDING or IN_PROGRESS.
func (s *Scheduler) AllDone() bool {
	all := true
	s.project.View(func(st *project.State) {
		st.Each(func(t *models.Task) {
			if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusInProgress {
				all = false
			}
		})
	})
	return all
}

// IsDone reports whether the ID is in the done set.
func (s *Scheduler) IsDone(id string) bool {
	var ok bool
	s.project.View(func(st *project.State) { ok = s.done[id] })
	return ok
}

// IsFailed reports whether the ID is in the failed set.
func (s *Scheduler) IsFailed(id string) bool {
	var ok bool
	s.project.View(func(st *project.State) { ok = s.failed[id] })
	return ok
}

// Claimed returns claimed task IDs in collection order.
func (s *Scheduler) Claimed() []string {
	var ids []string
	s.project.View(func(st *project.State) {
		for _, id := range st.IDs() {
			if s.claimed[id] {
				ids = append(ids, id)
			}
		}
	})
	return ids
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
