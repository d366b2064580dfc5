package orchestrator

import (
	"testing"
	"time"
)

func TestEventEmitter_StampsAndDelivers(t *testing.T) {
	e := NewEventEmitter(2)
	e.Emit(OrchestratorEvent{Type: EventTaskStarted, TaskID: "a"})

	ev := <-e.Events()
	if ev.TaskID != "a" || ev.Type != EventTaskStarted {
		t.Errorf("got %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Emit should stamp events without a timestamp")
	}
}

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1)
	e.Emit(OrchestratorEvent{Type: EventTaskStarted, TaskID: "a"})

	start := time.Now()
	e.Emit(OrchestratorEvent{Type: EventTaskStarted, TaskID: "b"})
	if time.Since(start) < 100*time.Millisecond {
		t.Error("Emit on a full channel should wait before dropping")
	}
	if got := e.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
}

func TestEventEmitter_CloseIsIdempotent(t *testing.T) {
	e := NewEventEmitter(1)
	e.Close()
	e.Close()
	e.Emit(OrchestratorEvent{Type: EventTaskStarted})

	if _, ok := <-e.Events(); ok {
		t.Error("Events() should be closed")
	}

	var nilEmitter *EventEmitter
	nilEmitter.Emit(OrchestratorEvent{Type: EventTaskStarted})
	nilEmitter.Close()
}
