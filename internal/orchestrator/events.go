package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskStarted indicates a task was selected and dispatched.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task reached DONE.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task was rejected.
	EventTaskFailed EventType = "task_failed"
	// EventTaskPaused indicates the pipeline stopped on a task awaiting a decision.
	EventTaskPaused EventType = "task_paused"
	// EventDecision indicates a reviewer decision was recorded.
	EventDecision EventType = "decision"
	// EventGateResult indicates a quality gate finished.
	EventGateResult EventType = "gate_result"
	// EventDeferredPromoted indicates deferred tasks were restored by a trigger.
	EventDeferredPromoted EventType = "deferred_promoted"
	// EventIntegrationPassed indicates the final integration check passed.
	EventIntegrationPassed EventType = "integration_passed"
	// EventIntegrationFailed indicates the final integration check failed.
	EventIntegrationFailed EventType = "integration_failed"
	// EventRunDone indicates Run returned.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Attempt is the dispatch attempt or gate round, when relevant.
	Attempt int
	// Gate is the gate kind for gate_result events.
	Gate string
	// Promoted lists restored task IDs for deferred_promoted events.
	Promoted []string
}
