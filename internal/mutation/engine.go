// Package mutation rewrites the task dependency graph: defer, restore, split,
// drop, terminate and trigger matching.
//
// Every operation runs as one project critical section. Unknown IDs produce
// empty results rather than errors, so every operation is safe to retry.
package mutation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

const (
	// SafeSuffix is appended to a split task's ID for the part that runs now.
	SafeSuffix = "-safe"
	// DeferSuffix is appended to a split task's ID for the deferred part.
	DeferSuffix = "-defer"
)

// Engine applies graph mutations to a project.
type Engine struct {
	project *project.Project
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an engine over the project.
func New(p *project.Project) *Engine {
	return &Engine{
		project:  p,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (e *Engine) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		e.debugLog = fn
	}
}

// Defer sets id aside until trigger fires, together with its exclusive upstream
// closure: the PENDING dependencies that exist only to serve tasks being
// deferred. Root tasks (no dependencies at all) are never pulled into the closure.
// Every other non-DONE task that depended on a deferred ID has that edge
// suspended. Returns the sorted deferred set, or nil if id does not exist.
func (e *Engine) Defer(id string, trigger *models.Trigger) []string {
	var deferred []string
	e.project.Update(func(st *project.State) {
		deferred = e.deferLocked(st, id, trigger)
	})
	return deferred
}

func (e *Engine) deferLocked(st *project.State, id string, trigger *models.Trigger) []string {
	target := st.Get(id)
	if target == nil {
		return nil
	}

	set := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, member := range sortedKeys(set) {
			for _, dep := range st.Get(member).Dependencies {
				if set[dep] || !e.closureEligible(st, dep, set) {
					continue
				}
				set[dep] = true
				changed = true
			}
		}
	}

	target.Status = models.TaskStatusDeferred
	if trigger != nil {
		trig := *trigger
		target.DeferTrigger = &trig
	} else {
		target.DeferTrigger = nil
	}
	for member := range set {
		if member == id {
			continue
		}
		t := st.Get(member)
		t.Status = models.TaskStatusDeferred
		t.DeferTrigger = nil
	}

	st.Each(func(t *models.Task) {
		if set[t.ID] || t.Status == models.TaskStatusDone {
			return
		}
		for _, dep := range append([]string(nil), t.Dependencies...) {
			if set[dep] {
				suspend(t, dep)
			}
		}
	})

	out := sortedKeys(set)
	detail := fmt.Sprintf("deferred %v", out)
	if trigger != nil {
		detail += " trigger=" + trigger.String()
	}
	st.Record(models.AuditMutation, id, "defer", detail)
	e.debugLog("[mutation.Defer] %s", detail)
	return out
}

// closureEligible reports whether dep can join the deferred closure.
func (e *Engine) closureEligible(st *project.State, dep string, set map[string]bool) bool {
	t := st.Get(dep)
	if t == nil || t.Status != models.TaskStatusPending {
		return false
	}
	if len(t.Dependencies) == 0 && len(t.SuspendedDependencies) == 0 {
		return false
	}
	for _, dependent := range st.Dependents(dep) {
		if !set[dependent] {
			return false
		}
	}
	return true
}

// suspend moves dep from t's active dependencies into its suspended ones,
// snapshotting the full dependency list first if this is the first suspension.
func suspend(t *models.Task, dep string) {
	if len(t.OriginalDependencies) == 0 {
		t.OriginalDependencies = append(append([]string{}, t.Dependencies...), t.SuspendedDependencies...)
	}
	t.Dependencies = without(t.Dependencies, dep)
	if !models.ContainsString(t.SuspendedDependencies, dep) {
		t.SuspendedDependencies = append(t.SuspendedDependencies, dep)
	}
}

// Restore undoes a deferral: id and every DEFERRED task reachable through its
// active dependencies return to PENDING, and suspended edges pointing at them
// become active again. Returns the sorted restored set, or nil if id is not DEFERRED.
func (e *Engine) Restore(id string) []string {
	var restored []string
	e.project.Update(func(st *project.State) {
		restored = e.restoreLocked(st, id)
	})
	return restored
}

func (e *Engine) restoreLocked(st *project.State, id string) []string {
	target := st.Get(id)
	if target == nil || target.Status != models.TaskStatusDeferred {
		return nil
	}

	set := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range st.Get(cur).Dependencies {
			if set[dep] {
				continue
			}
			if d := st.Get(dep); d != nil && d.Status == models.TaskStatusDeferred {
				set[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	for member := range set {
		t := st.Get(member)
		t.Status = models.TaskStatusPending
		t.DeferTrigger = nil
	}

	st.Each(func(t *models.Task) {
		if t.Status == models.TaskStatusDone {
			return
		}
		var back []string
		for _, dep := range t.SuspendedDependencies {
			if set[dep] {
				back = append(back, dep)
			}
		}
		if len(back) > 0 {
			unsuspend(t, back)
		}
	})

	out := sortedKeys(set)
	st.Record(models.AuditMutation, id, "restore", fmt.Sprintf("restored %v", out))
	e.debugLog("[mutation.Restore] %s -> %v", id, out)
	return out
}

// unsuspend returns ids to t's active dependencies in their snapshot order.
// Active dependencies added after the snapshot keep their place at the end.
func unsuspend(t *models.Task, ids []string) {
	back := make(map[string]bool, len(ids))
	for _, id := range ids {
		back[id] = true
	}

	var deps []string
	placed := make(map[string]bool)
	for _, o := range t.OriginalDependencies {
		if (back[o] || models.ContainsString(t.Dependencies, o)) && !placed[o] {
			deps = append(deps, o)
			placed[o] = true
		}
	}
	for _, d := range t.Dependencies {
		if !placed[d] {
			deps = append(deps, d)
			placed[d] = true
		}
	}
	for _, id := range ids {
		if !placed[id] {
			deps = append(deps, id)
			placed[id] = true
		}
	}
	t.Dependencies = deps

	var still []string
	for _, s := range t.SuspendedDependencies {
		if !back[s] {
			still = append(still, s)
		}
	}
	t.SuspendedDependencies = still
	if len(still) == 0 {
		t.OriginalDependencies = nil
	}
}

// Drop removes a task entirely and strips its ID from every other task's
// dependency lists. Returns false if id does not exist.
func (e *Engine) Drop(id string) bool {
	var ok bool
	e.project.Update(func(st *project.State) {
		if !st.Remove(id) {
			return
		}
		ok = true
		stripEverywhere(st, id)
		st.Record(models.AuditMutation, id, "drop", "task removed")
	})
	if ok {
		e.debugLog("[mutation.Drop] %s", id)
	}
	return ok
}

// Terminate permanently cancels a task. The record stays with TERMINATED status
// and a marked description; other tasks stop depending on it. Returns false if
// id does not exist. Repeating the call does not stack markers.
func (e *Engine) Terminate(id, reason string) bool {
	var ok bool
	e.project.Update(func(st *project.State) {
		t := st.Get(id)
		if t == nil {
			return
		}
		ok = true
		t.Status = models.TaskStatusTerminated
		if !t.IsTerminatedMarked() {
			t.Description = strings.TrimSpace(models.TerminatedMarker + " " + t.Description)
		}
		if reason != "" {
			line := "Reason: " + reason
			if !strings.Contains(t.Description, line) {
				t.Description += "\n" + line
			}
		}
		stripEverywhere(st, id)
		st.Record(models.AuditMutation, id, "terminate", reason)
	})
	if ok {
		e.debugLog("[mutation.Terminate] %s reason=%q", id, reason)
	}
	return ok
}

// stripEverywhere removes id from every other task's three dependency lists.
func stripEverywhere(st *project.State, id string) {
	st.Each(func(t *models.Task) {
		if t.ID == id {
			return
		}
		t.Dependencies = without(t.Dependencies, id)
		t.SuspendedDependencies = without(t.SuspendedDependencies, id)
		t.OriginalDependencies = without(t.OriginalDependencies, id)
		if len(t.SuspendedDependencies) == 0 {
			t.OriginalDependencies = nil
		}
	})
}

// Split replaces id with id-safe (PENDING) and id-defer (DEFERRED, high risk,
// trigger). Both inherit the original fields and dependency list. Dependents and
// triggers that referenced id now reference id-safe. Returns ("", "") if id does
// not exist or either new ID is already taken.
func (e *Engine) Split(id, safeTitle, safeDesc, deferredTitle, deferredDesc string, trigger *models.Trigger) (string, string) {
	var safeID, deferID string
	e.project.Update(func(st *project.State) {
		orig := st.Get(id)
		if orig == nil {
			return
		}
		sID, dID := id+SafeSuffix, id+DeferSuffix
		if st.Has(sID) || st.Has(dID) {
			e.debugLog("[mutation.Split] %s: id collision", id)
			return
		}

		safe := orig.Clone()
		safe.ID = sID
		safe.Title = safeTitle
		safe.Description = safeDesc
		safe.Status = models.TaskStatusPending
		safe.DeferTrigger = nil
		safe.CompletedAt = nil

		later := orig.Clone()
		later.ID = dID
		later.Title = deferredTitle
		later.Description = deferredDesc
		later.Status = models.TaskStatusDeferred
		later.RiskLevel = "high"
		later.DeferTrigger = nil
		later.CompletedAt = nil
		if trigger != nil {
			trig := *trigger
			later.DeferTrigger = &trig
		}

		st.Replace(id, safe, later)

		st.Each(func(t *models.Task) {
			if t.ID == sID || t.ID == dID {
				return
			}
			t.Dependencies = rename(t.Dependencies, id, sID)
			t.SuspendedDependencies = rename(t.SuspendedDependencies, id, sID)
			t.OriginalDependencies = rename(t.OriginalDependencies, id, sID)
			if t.DeferTrigger != nil && t.DeferTrigger.TaskID == id {
				t.DeferTrigger.TaskID = sID
			}
		})

		safeID, deferID = sID, dID
		st.Record(models.AuditMutation, id, "split", fmt.Sprintf("split into %s and %s", sID, dID))
	})
	if safeID != "" {
		e.debugLog("[mutation.Split] %s -> %s, %s", id, safeID, deferID)
	}
	return safeID, deferID
}

// MatchTriggers promotes deferred tasks whose trigger names completedID.
//
// A "promoted" condition holds when the trigger task is PENDING again. Any other
// condition holds when a FAIL gate result is recorded for the trigger task.
// Independently, a DONE trigger task satisfies every condition. Each match is
// restored; the union of restored IDs is returned sorted.
func (e *Engine) MatchTriggers(completedID string) []string {
	var promoted []string
	e.project.Update(func(st *project.State) {
		promoted = e.matchLocked(st, completedID)
	})
	return promoted
}

func (e *Engine) matchLocked(st *project.State, completedID string) []string {
	trigTask := st.Get(completedID)
	prefix := completedID + ":"

	var candidates []string
	st.Each(func(t *models.Task) {
		if t.Status != models.TaskStatusDeferred || t.DeferTrigger == nil {
			return
		}
		if strings.HasPrefix(t.DeferTrigger.String(), prefix) {
			candidates = append(candidates, t.ID)
		}
	})

	union := make(map[string]bool)
	for _, id := range candidates {
		t := st.Get(id)
		// An earlier restore in this pass may already have promoted it.
		if t == nil || t.Status != models.TaskStatusDeferred || t.DeferTrigger == nil {
			continue
		}
		cond := strings.TrimPrefix(t.DeferTrigger.String(), prefix)
		if !conditionMet(st, trigTask, completedID, cond) {
			continue
		}
		for _, r := range e.restoreLocked(st, id) {
			union[r] = true
		}
	}

	out := sortedKeys(union)
	if len(out) > 0 {
		e.debugLog("[mutation.MatchTriggers] %s promoted %v", completedID, out)
	}
	return out
}

func conditionMet(st *project.State, trigTask *models.Task, completedID, cond string) bool {
	if trigTask == nil {
		return false
	}
	// DONE satisfies every condition, promoted included.
	// TODO: confirm with product whether a plain DONE should satisfy stricter conditions.
	if trigTask.Status == models.TaskStatusDone {
		return true
	}
	if cond == models.ConditionPromoted {
		return trigTask.Status == models.TaskStatusPending
	}
	for _, r := range st.GateResultsFor(completedID) {
		if r.Failed() {
			return true
		}
	}
	return false
}

// without returns list minus s, or nil when nothing remains.
func without(list []string, s string) []string {
	out := models.RemoveString(list, s)
	if len(out) == 0 {
		return nil
	}
	return out
}

// rename replaces from with to, keeping position and avoiding duplicates.
func rename(list []string, from, to string) []string {
	if !models.ContainsString(list, from) {
		return list
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v == from {
			v = to
		}
		if !models.ContainsString(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
