package models

import (
	"fmt"
	"strings"
	"time"
)

// GateKind names a quality gate.
type GateKind string

const (
	// GateBuild compiles the workspace.
	GateBuild GateKind = "build"
	// GateTest runs the test suite.
	GateTest GateKind = "test"
	// GateLint runs the linter.
	GateLint GateKind = "lint"
	// GateTypecheck runs static type checking.
	GateTypecheck GateKind = "typecheck"
)

// GateStatus is the outcome of a single gate run.
type GateStatus string

const (
	// GatePass indicates the gate check succeeded.
	GatePass GateStatus = "pass"
	// GateFail indicates the gate check failed.
	GateFail GateStatus = "fail"
	// GateSkipped indicates the gate was not applicable.
	GateSkipped GateStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s GateStatus) Valid() bool {
	switch s {
	case GatePass, GateFail, GateSkipped:
		return true
	default:
		return false
	}
}

// GateKey identifies a gate result by task and gate kind.
// Its text form is "<task-id>:<gate>", which keeps it usable as a JSON map key.
type GateKey struct {
	TaskID string
	Gate   GateKind
}

// String returns the "<task-id>:<gate>" form.
func (k GateKey) String() string {
	return k.TaskID + ":" + string(k.Gate)
}

// MarshalText implements encoding.TextMarshaler.
func (k GateKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Gate kinds never contain a colon, so the split happens at the last one.
func (k *GateKey) UnmarshalText(b []byte) error {
	s := string(b)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("invalid gate key %q", s)
	}
	k.TaskID = s[:i]
	k.Gate = GateKind(s[i+1:])
	return nil
}

// GateResult is the recorded outcome of running one gate for one task.
type GateResult struct {
	// Gate is the gate kind that was run.
	Gate GateKind `json:"gate"`
	// Status is pass, fail, or skipped.
	Status GateStatus `json:"status"`
	// Output contains the textual gate output.
	Output string `json:"output,omitempty"`
	// Duration is how long the gate took to run.
	Duration time.Duration `json:"duration,omitempty"`
	// RanAt is when the gate finished.
	RanAt time.Time `json:"ran_at"`
}

// Failed reports whether the result is a failure.
func (r GateResult) Failed() bool {
	return r.Status == GateFail
}
