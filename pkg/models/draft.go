package models

import "time"

// Draft is the artifact an executor produced for a task.
type Draft struct {
	// TaskID is the task the draft belongs to.
	TaskID string `json:"task_id"`
	// Files maps relative file paths to their produced contents.
	Files map[string]string `json:"files"`
	// Explanation is the executor's description of the change.
	Explanation string `json:"explanation,omitempty"`
	// CommitID is the commit holding the change, if the executor committed it.
	CommitID string `json:"commit_id,omitempty"`
	// BranchName is the branch holding the change, if any.
	BranchName string `json:"branch_name,omitempty"`
	// Attempt is the dispatch attempt that produced the draft (1-indexed).
	Attempt int `json:"attempt"`
	// CreatedAt is when the draft was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the draft.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	if d.Files != nil {
		c.Files = make(map[string]string, len(d.Files))
		for k, v := range d.Files {
			c.Files[k] = v
		}
	}
	return &c
}

// ContextPackage is everything an executor is handed for one dispatch attempt.
type ContextPackage struct {
	// Task is a snapshot of the task being dispatched.
	Task *Task `json:"task"`
	// AuditContext is project-level context gathered before decomposition.
	AuditContext string `json:"audit_context,omitempty"`
	// DependencyOutputs maps each DONE dependency to its recorded draft.
	DependencyOutputs map[string]*Draft `json:"dependency_outputs,omitempty"`
	// Feedback accumulates reviewer and gate feedback across attempts, oldest first.
	Feedback []string `json:"feedback,omitempty"`
	// PreviousDraft is the artifact from the prior attempt, if any.
	PreviousDraft *Draft `json:"previous_draft,omitempty"`
	// Attempt is the 1-indexed dispatch attempt number.
	Attempt int `json:"attempt"`
}
