package models

import (
	"encoding/json"
	"testing"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"in_review is valid", TaskStatusInReview, true},
		{"done is valid", TaskStatusDone, true},
		{"failed is valid", TaskStatusFailed, true},
		{"deferred is valid", TaskStatusDeferred, true},
		{"terminated is valid", TaskStatusTerminated, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"blocked is no longer a status", TaskStatus("blocked"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Active(t *testing.T) {
	active := map[TaskStatus]bool{
		TaskStatusPending:    true,
		TaskStatusInProgress: true,
		TaskStatusInReview:   true,
		TaskStatusDone:       false,
		TaskStatusFailed:     false,
		TaskStatusDeferred:   false,
		TaskStatusTerminated: false,
	}
	for status, want := range active {
		if got := status.Active(); got != want {
			t.Errorf("%s.Active() = %v, want %v", status, got, want)
		}
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	orig := &Task{
		ID:           "T1",
		Dependencies: []string{"A"},
		Gates:        []GateKind{GateBuild},
		DeferTrigger: &Trigger{TaskID: "A", Condition: "promoted"},
	}
	c := orig.Clone()
	c.Dependencies[0] = "B"
	c.Gates[0] = GateTest
	c.DeferTrigger.Condition = "other"

	if orig.Dependencies[0] != "A" {
		t.Errorf("clone shares Dependencies backing array")
	}
	if orig.Gates[0] != GateBuild {
		t.Errorf("clone shares Gates backing array")
	}
	if orig.DeferTrigger.Condition != "promoted" {
		t.Errorf("clone shares DeferTrigger pointer")
	}
}

func TestRemoveString(t *testing.T) {
	got := RemoveString([]string{"a", "b", "a", "c"}, "a")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("RemoveString() = %v, want [b c]", got)
	}
	if got := RemoveString(nil, "a"); got == nil {
		t.Error("RemoveString(nil) should return an empty, non-nil slice")
	}
}

func TestTask_JSONTriggerForm(t *testing.T) {
	task := Task{ID: "T3", Status: TaskStatusDeferred, DeferTrigger: &Trigger{TaskID: "T1", Condition: "coverage below 80%"}}
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if raw["defer_trigger"] != "T1:coverage below 80%" {
		t.Errorf("defer_trigger = %v, want string form", raw["defer_trigger"])
	}

	var back Task
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.DeferTrigger == nil || *back.DeferTrigger != *task.DeferTrigger {
		t.Errorf("DeferTrigger = %+v, want %+v", back.DeferTrigger, task.DeferTrigger)
	}
}
