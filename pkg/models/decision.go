package models

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is a reviewer's decision on an artifact or an escalation.
type Verdict string

const (
	// VerdictApprove accepts the artifact.
	VerdictApprove Verdict = "approve"
	// VerdictRevise asks for another attempt with feedback.
	VerdictRevise Verdict = "revise"
	// VerdictReject fails the task and forces re-planning.
	VerdictReject Verdict = "reject"
	// VerdictPause halts the pipeline until an external decision arrives.
	VerdictPause Verdict = "pause"
	// VerdictOverride accepts the artifact despite failing gates.
	VerdictOverride Verdict = "override"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictRevise, VerdictReject, VerdictPause, VerdictOverride:
		return true
	default:
		return false
	}
}

// ParseVerdict parses a verdict case-insensitively.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}

// Decision is a reviewer's answer plus optional feedback.
type Decision struct {
	// Verdict is the decision.
	Verdict Verdict `json:"verdict"`
	// Feedback is free text explaining the decision.
	Feedback string `json:"feedback,omitempty"`
	// Reviewer names who decided (ai, human, auto).
	Reviewer string `json:"reviewer,omitempty"`
}

// AuditKind classifies audit log entries.
type AuditKind string

const (
	// AuditDecision records a review or escalation decision.
	AuditDecision AuditKind = "decision"
	// AuditApproval records a task being marked done.
	AuditApproval AuditKind = "approval"
	// AuditMutation records a graph mutation.
	AuditMutation AuditKind = "mutation"
	// AuditExecution records dispatch and gate activity.
	AuditExecution AuditKind = "execution"
	// AuditPhase records pipeline phase changes.
	AuditPhase AuditKind = "phase"
)

// AuditEntry is one line of the append-only audit log.
type AuditEntry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`
	// Kind classifies the entry.
	Kind AuditKind `json:"kind"`
	// TaskID is the related task, if any.
	TaskID string `json:"task_id,omitempty"`
	// Action is a short machine-friendly label (e.g. "defer", "gate_override").
	Action string `json:"action"`
	// Detail is human-readable context.
	Detail string `json:"detail,omitempty"`
	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`
}
