package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/plango-run/plango/runtime/emit"
)

// MemoryRecorder is an in-memory Recorder: testing and development only,
// history is lost on process exit (spec §D.7 names persistence across
// restarts an explicit non-goal, so this is never a correctness
// requirement for the runtime itself).
type MemoryRecorder struct {
	mu       sync.Mutex
	steps    map[string][]StepRecord // runID -> steps, in arrival order
	ios      map[string][]RecordedIO // "runID:nodeName:attempt" -> io
	pending  []emit.Event
	emitted  map[string]bool
	closed   bool
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		steps:   make(map[string][]StepRecord),
		ios:     make(map[string][]RecordedIO),
		emitted: make(map[string]bool),
	}
}

// RecordStep implements Recorder.
func (m *MemoryRecorder) RecordStep(_ context.Context, runID, nodeName string, output []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[runID] = append(m.steps[runID], StepRecord{
		RunID: runID, NodeName: nodeName, Output: output, CreatedAt: time.Now(),
	})
	return nil
}

// RecordIO implements Recorder.
func (m *MemoryRecorder) RecordIO(_ context.Context, runID, nodeName string, attempt int, io RecordedIO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ioKey(runID, nodeName, attempt)
	m.ios[key] = append(m.ios[key], io)
	return nil
}

func ioKey(runID, nodeName string, attempt int) string {
	return runID + ":" + nodeName + ":" + strconv.Itoa(attempt)
}

// Steps returns a copy of runID's recorded step history, for tests and
// offline inspection.
func (m *MemoryRecorder) Steps(runID string) []StepRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StepRecord(nil), m.steps[runID]...)
}

// PendingEvents implements Recorder.
func (m *MemoryRecorder) PendingEvents(_ context.Context, limit int) ([]emit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.pending) {
		limit = len(m.pending)
	}
	return append([]emit.Event(nil), m.pending[:limit]...), nil
}

// MarkEventsEmitted implements Recorder. MemoryRecorder has no event id
// concept of its own; this is a no-op beyond clearing the pending queue.
func (m *MemoryRecorder) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(eventIDs) == 0 {
		return nil
	}
	m.pending = nil
	return nil
}

// Enqueue adds an event to the pending outbox, for callers bridging an
// Emitter into this Recorder's outbox.
func (m *MemoryRecorder) Enqueue(e emit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, e)
}

// Close implements Recorder.
func (m *MemoryRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
