package models

import (
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is claimed and being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusInReview indicates the task's artifact is awaiting a review decision.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed or was rejected.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusDeferred indicates the task was set aside until its trigger fires.
	TaskStatusDeferred TaskStatus = "deferred"
	// TaskStatusTerminated indicates the task was permanently cancelled.
	TaskStatusTerminated TaskStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone,
		TaskStatusFailed, TaskStatusDeferred, TaskStatusTerminated:
		return true
	default:
		return false
	}
}

// Active returns true if the status blocks the pipeline from being finished.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress || s == TaskStatusInReview
}

// TerminatedMarker prefixes the description of a terminated task.
const TerminatedMarker = "[TERMINATED]"

// Task represents a unit of work in the pipeline.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Dependencies lists task IDs that must be done before this task may run.
	Dependencies []string `json:"dependencies"`
	// SuspendedDependencies holds dependency IDs removed because their target was deferred.
	SuspendedDependencies []string `json:"suspended_dependencies"`
	// OriginalDependencies snapshots Dependencies ∪ SuspendedDependencies at the first suspension.
	OriginalDependencies []string `json:"original_dependencies"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// DeferTrigger is the condition that promotes a deferred task back to pending.
	DeferTrigger *Trigger `json:"defer_trigger,omitempty"`
	// Gates lists the quality gates this task must pass, in order.
	Gates []GateKind `json:"gates,omitempty"`

	// RiskLevel is a routing hint (low, medium, high).
	RiskLevel string `json:"risk_level,omitempty"`
	// EstimatedScope is a routing hint (small, medium, large).
	EstimatedScope string `json:"estimated_scope,omitempty"`
	// Layer is the architectural layer the task touches.
	Layer string `json:"layer,omitempty"`
	// Type classifies the task (feature, fix, setup, ...).
	Type string `json:"type,omitempty"`
	// Specialist names the executor profile best suited for the task.
	Specialist string `json:"specialist,omitempty"`
	// FilesToTouch lists the files the task is expected to modify.
	FilesToTouch []string `json:"files_to_touch,omitempty"`
	// AcceptanceCriteria defines the criteria for task completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// BranchName is the branch of the workspace assigned at dispatch time.
	BranchName string `json:"branch_name,omitempty"`
	// WorkspacePath is the path of the workspace assigned at dispatch time.
	WorkspacePath string `json:"workspace_path,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task was completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = cloneStrings(t.Dependencies)
	c.SuspendedDependencies = cloneStrings(t.SuspendedDependencies)
	c.OriginalDependencies = cloneStrings(t.OriginalDependencies)
	c.FilesToTouch = cloneStrings(t.FilesToTouch)
	c.AcceptanceCriteria = cloneStrings(t.AcceptanceCriteria)
	if t.Gates != nil {
		c.Gates = append([]GateKind{}, t.Gates...)
	}
	if t.DeferTrigger != nil {
		trig := *t.DeferTrigger
		c.DeferTrigger = &trig
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// DependsOn reports whether id is one of the task's active dependencies.
func (t *Task) DependsOn(id string) bool {
	return ContainsString(t.Dependencies, id)
}

// IsTerminatedMarked reports whether the description already carries the terminated marker.
func (t *Task) IsTerminatedMarked() bool {
	return strings.HasPrefix(t.Description, TerminatedMarker)
}

// ContainsString reports whether s is present in list.
func ContainsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RemoveString returns list without any occurrence of s.
// The returned slice is never nil.
func RemoveString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
