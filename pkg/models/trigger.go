package models

import (
	"fmt"
	"strings"
)

// ConditionPromoted is the trigger condition satisfied when the trigger task itself is pending again.
const ConditionPromoted = "promoted"

// Trigger is the condition under which a deferred task is promoted back to pending.
// Its text form is "<task-id>:<condition>".
type Trigger struct {
	// TaskID is the task whose completion is watched.
	TaskID string
	// Condition is either ConditionPromoted or a free-text condition.
	Condition string
}

// ParseTrigger parses the "<task-id>:<condition>" form.
// The task id ends at the first colon; the condition may contain further colons.
func ParseTrigger(s string) (Trigger, error) {
	id, cond, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Trigger{}, fmt.Errorf("invalid trigger %q: expected <task-id>:<condition>", s)
	}
	return Trigger{TaskID: id, Condition: cond}, nil
}

// NewTrigger returns a pointer to the parsed trigger, or nil if s is empty.
func NewTrigger(s string) (*Trigger, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ParseTrigger(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// String returns the "<task-id>:<condition>" form.
func (t Trigger) String() string {
	return t.TaskID + ":" + t.Condition
}

// MarshalText implements encoding.TextMarshaler.
func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Trigger) UnmarshalText(b []byte) error {
	parsed, err := ParseTrigger(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
