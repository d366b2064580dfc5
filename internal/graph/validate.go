package graph

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/foundry/pkg/models"
)

// IssueKind classifies a structural problem in the task set.
type IssueKind string

const (
	// IssueDuplicateID means two tasks share an ID.
	IssueDuplicateID IssueKind = "duplicate_id"
	// IssueDanglingDependency means a dependency references an unknown task.
	IssueDanglingDependency IssueKind = "dangling_dependency"
	// IssueDanglingSuspended means a suspended dependency references an unknown task.
	IssueDanglingSuspended IssueKind = "dangling_suspended"
	// IssueCycle means the dependency relation is not acyclic.
	IssueCycle IssueKind = "cycle"
	// IssueSuspendedOverlap means an ID is both an active and a suspended dependency.
	IssueSuspendedOverlap IssueKind = "suspended_overlap"
	// IssueSnapshotMismatch means original_dependencies is set without a suspension, or vice versa.
	IssueSnapshotMismatch IssueKind = "snapshot_mismatch"
	// IssueInvalidStatus means a task carries an unknown status.
	IssueInvalidStatus IssueKind = "invalid_status"
)

// Issue is one blocking structural problem.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	TaskID  string    `json:"task_id,omitempty"`
	Message string    `json:"message"`
}

// String returns a human-readable form of the issue.
func (i Issue) String() string {
	if i.TaskID == "" {
		return fmt.Sprintf("%s: %s", i.Kind, i.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", i.Kind, i.TaskID, i.Message)
}

// Validate checks the structural invariants of a task set and returns every issue found.
// An empty result means the set is safe to execute.
func Validate(tasks []*models.Task) []Issue {
	return New().Validate(tasks)
}

// Validate rebuilds g from tasks and returns every structural issue found.
func (g *DependencyGraph) Validate(tasks []*models.Task) []Issue {
	var issues []Issue

	_ = g.Build(tasks)

	for _, id := range g.duplicates {
		issues = append(issues, Issue{Kind: IssueDuplicateID, TaskID: id, Message: "task id appears more than once"})
	}

	for _, id := range g.ids {
		task := g.nodes[id]

		if !task.Status.Valid() {
			issues = append(issues, Issue{Kind: IssueInvalidStatus, TaskID: id, Message: fmt.Sprintf("unknown status %q", task.Status)})
		}
		for _, dep := range g.dangling[id] {
			issues = append(issues, Issue{Kind: IssueDanglingDependency, TaskID: id, Message: fmt.Sprintf("depends on unknown task %s", dep)})
		}
		for _, dep := range task.SuspendedDependencies {
			if _, ok := g.nodes[dep]; !ok {
				issues = append(issues, Issue{Kind: IssueDanglingSuspended, TaskID: id, Message: fmt.Sprintf("suspended dependency on unknown task %s", dep)})
			}
			if task.DependsOn(dep) {
				issues = append(issues, Issue{Kind: IssueSuspendedOverlap, TaskID: id, Message: fmt.Sprintf("%s is both active and suspended", dep)})
			}
		}
		if (len(task.OriginalDependencies) > 0) != (len(task.SuspendedDependencies) > 0) {
			issues = append(issues, Issue{Kind: IssueSnapshotMismatch, TaskID: id,
				Message: fmt.Sprintf("original_dependencies=%v but suspended_dependencies=%v", task.OriginalDependencies, task.SuspendedDependencies)})
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		issues = append(issues, Issue{Kind: IssueCycle, TaskID: cycle[0], Message: strings.Join(cycle, " -> ")})
	}

	g.debugLog("[graph.Validate] %d issue(s)", len(issues))
	return issues
}
