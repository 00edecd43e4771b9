package emit

import "testing"

func TestNullEmitterDiscardsEvents(t *testing.T) {
	t.Run("emits events without error", func(t *testing.T) {
		emitter := NewNullEmitter()

		events := []Event{
			{RunID: "run-001", NodeName: "node1", Status: "dispatch"},
			{RunID: "run-001", NodeName: "node1", Status: "success"},
			{RunID: "run-001", NodeName: "node2", Status: "error", Meta: map[string]interface{}{"error": "test"}},
		}

		for _, event := range events {
			emitter.Emit(event)
		}
	})

	t.Run("can emit with nil meta", func(t *testing.T) {
		emitter := NewNullEmitter()
		emitter.Emit(Event{RunID: "run-001", NodeName: "node1", Status: "dispatch", Meta: nil})
	})
}

func TestNullEmitterInterfaceContract(t *testing.T) {
	var _ Emitter = NewNullEmitter()
}
