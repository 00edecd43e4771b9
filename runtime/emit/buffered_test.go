package emit

import (
	"testing"
	"time"
)

func TestBufferedEmitterStoresEvents(t *testing.T) {
	t.Run("stores single event", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-001", NodeName: "node1", Status: "dispatch"})

		history := emitter.GetHistory("run-001")
		if len(history) != 1 {
			t.Fatalf("expected 1 event, got %d", len(history))
		}
		if history[0].NodeName != "node1" {
			t.Errorf("expected NodeName = 'node1', got %q", history[0].NodeName)
		}
	})

	t.Run("stores multiple events", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		events := []Event{
			{RunID: "run-001", NodeName: "node1", Status: "dispatch"},
			{RunID: "run-001", NodeName: "node1", Status: "success"},
			{RunID: "run-001", NodeName: "node2", Status: "dispatch"},
		}
		for _, event := range events {
			emitter.Emit(event)
		}

		history := emitter.GetHistory("run-001")
		if len(history) != 3 {
			t.Fatalf("expected 3 events, got %d", len(history))
		}
	})

	t.Run("isolates events by runID", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-001", Status: "dispatch"})
		emitter.Emit(Event{RunID: "run-002", Status: "dispatch"})
		emitter.Emit(Event{RunID: "run-001", Status: "success"})

		if got := len(emitter.GetHistory("run-001")); got != 2 {
			t.Errorf("expected 2 events for run-001, got %d", got)
		}
		if got := len(emitter.GetHistory("run-002")); got != 1 {
			t.Errorf("expected 1 event for run-002, got %d", got)
		}
	})

	t.Run("returns empty slice for unknown runID", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		history := emitter.GetHistory("unknown-run")
		if history == nil {
			t.Error("expected empty slice, got nil")
		}
		if len(history) != 0 {
			t.Errorf("expected 0 events, got %d", len(history))
		}
	})
}

func TestBufferedEmitterGetHistoryWithFilter(t *testing.T) {
	t.Run("filters by node name", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		events := []Event{
			{RunID: "run-001", NodeName: "node1", Status: "dispatch"},
			{RunID: "run-001", NodeName: "node2", Status: "dispatch"},
			{RunID: "run-001", NodeName: "node1", Status: "success"},
		}
		for _, event := range events {
			emitter.Emit(event)
		}

		history := emitter.GetHistoryWithFilter("run-001", HistoryFilter{NodeName: "node1"})

		if len(history) != 2 {
			t.Fatalf("expected 2 events, got %d", len(history))
		}
		for _, event := range history {
			if event.NodeName != "node1" {
				t.Errorf("expected NodeName = 'node1', got %q", event.NodeName)
			}
		}
	})

	t.Run("filters by status", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		events := []Event{
			{RunID: "run-001", Status: "dispatch"},
			{RunID: "run-001", Status: "success"},
			{RunID: "run-001", Status: "dispatch"},
		}
		for _, event := range events {
			emitter.Emit(event)
		}

		history := emitter.GetHistoryWithFilter("run-001", HistoryFilter{Status: "dispatch"})

		if len(history) != 2 {
			t.Fatalf("expected 2 events, got %d", len(history))
		}
		for _, event := range history {
			if event.Status != "dispatch" {
				t.Errorf("expected Status = 'dispatch', got %q", event.Status)
			}
		}
	})

	t.Run("combines multiple filters", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		events := []Event{
			{RunID: "run-001", NodeName: "node1", Status: "dispatch"},
			{RunID: "run-001", NodeName: "node2", Status: "dispatch"},
			{RunID: "run-001", NodeName: "node1", Status: "success"},
		}
		for _, event := range events {
			emitter.Emit(event)
		}

		history := emitter.GetHistoryWithFilter("run-001", HistoryFilter{NodeName: "node1", Status: "dispatch"})

		if len(history) != 1 {
			t.Fatalf("expected 1 event, got %d", len(history))
		}
		if history[0].NodeName != "node1" || history[0].Status != "dispatch" {
			t.Error("expected event with NodeName=node1, Status=dispatch")
		}
	})

	t.Run("empty filter returns all events", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		events := []Event{
			{RunID: "run-001", Status: "dispatch"},
			{RunID: "run-001", Status: "success"},
			{RunID: "run-001", Status: "error"},
		}
		for _, event := range events {
			emitter.Emit(event)
		}

		history := emitter.GetHistoryWithFilter("run-001", HistoryFilter{})
		if len(history) != 3 {
			t.Fatalf("expected 3 events, got %d", len(history))
		}
	})
}

func TestBufferedEmitterClear(t *testing.T) {
	t.Run("clears all events for runID", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-001", Status: "dispatch"})
		emitter.Emit(Event{RunID: "run-002", Status: "dispatch"})

		emitter.Clear("run-001")

		if got := len(emitter.GetHistory("run-001")); got != 0 {
			t.Errorf("expected 0 events for run-001, got %d", got)
		}
		if got := len(emitter.GetHistory("run-002")); got != 1 {
			t.Errorf("expected 1 event for run-002, got %d", got)
		}
	})

	t.Run("clears all events when runID is empty", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-001", Status: "dispatch"})
		emitter.Emit(Event{RunID: "run-002", Status: "dispatch"})

		emitter.Clear("")

		if len(emitter.GetHistory("run-001")) != 0 || len(emitter.GetHistory("run-002")) != 0 {
			t.Error("expected all events to be cleared")
		}
	})
}

func TestBufferedEmitterThreadSafety(t *testing.T) {
	t.Run("concurrent emit and read", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		done := make(chan bool)
		for i := 0; i < 10; i++ {
			go func() {
				for j := 0; j < 100; j++ {
					emitter.Emit(Event{RunID: "run-001", Status: "dispatch"})
				}
				done <- true
			}()
		}

		readDone := make(chan bool)
		go func() {
			for i := 0; i < 100; i++ {
				emitter.GetHistory("run-001")
				time.Sleep(time.Millisecond)
			}
			readDone <- true
		}()

		for i := 0; i < 10; i++ {
			<-done
		}
		<-readDone

		if got := len(emitter.GetHistory("run-001")); got != 1000 {
			t.Errorf("expected 1000 events, got %d", got)
		}
	})
}

func TestBufferedEmitterInterfaceContract(_ *testing.T) {
	var _ Emitter = NewBufferedEmitter()
}
