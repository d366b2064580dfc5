package models

// Phase is the global pipeline phase.
type Phase string

const (
	// PhaseIntake is the initial phase before any planning.
	PhaseIntake Phase = "intake"
	// PhaseDecompose means the task list is being (re)planned.
	PhaseDecompose Phase = "decompose"
	// PhaseExecute means tasks are being dispatched.
	PhaseExecute Phase = "execute"
	// PhaseIntegrate means every task finished and the integration check passed.
	PhaseIntegrate Phase = "integrate"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIntake, PhaseDecompose, PhaseExecute, PhaseIntegrate:
		return true
	default:
		return false
	}
}

// Stage records where a task's state machine stopped, so a resume can continue from there.
type Stage string

const (
	// StageDispatch means the next step is a fresh executor dispatch.
	StageDispatch Stage = "dispatch"
	// StageReview means the stored draft still awaits a review decision.
	StageReview Stage = "review"
	// StageEscalation means gates were exhausted and a gate-failure decision is pending.
	StageEscalation Stage = "escalation"
)

// TaskProgress is per-task state-machine bookkeeping that survives a pause.
type TaskProgress struct {
	// Stage is where the task should continue from.
	Stage Stage `json:"stage"`
	// Feedback accumulates reviewer and gate feedback, oldest first.
	Feedback []string `json:"feedback,omitempty"`
	// Attempts counts executor dispatches across the task's lifetime.
	Attempts int `json:"attempts"`
	// GateRounds is the number of gate rounds exhausted before escalation.
	GateRounds int `json:"gate_rounds,omitempty"`
}
