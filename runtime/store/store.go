// Package store provides an optional, append-only execution recorder for
// plango runs (spec §D.7's "optional observer"): a Recorder can be
// attached to an Engine to capture completed steps and side-effecting
// I/O for audit and offline replay-diffing, but the Engine never reads
// from it and never blocks a run on it. Persisting run state across
// process restarts is an explicit non-goal of the runtime itself —
// Recorder exists alongside that boundary, not inside it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/plango-run/plango/runtime/emit"
)

// ErrNotFound is returned when a requested run or event id does not exist.
var ErrNotFound = errors.New("not found")

// Recorder appends completed-step and recorded-I/O data for a run.
// Implementations must be safe for concurrent use: a single run can have
// many nodes completing on different worker-pool goroutines at once.
type Recorder interface {
	// RecordStep appends one completed node's output to the run's
	// history. output is the node's OutputCell, already serialized to
	// JSON by the caller (runtime.Cell.Raw(), marshaled).
	RecordStep(ctx context.Context, runID string, nodeName string, output []byte) error

	// RecordIO appends a side-effecting node's request/response pair.
	// The Engine never calls it; only code that captures I/O itself does.
	RecordIO(ctx context.Context, runID string, nodeName string, attempt int, io RecordedIO) error

	// PendingEvents returns up to limit emitted events not yet marked
	// delivered, implementing the transactional-outbox pattern for
	// at-least-once event delivery independent of the Engine's own
	// in-process Emitter.
	PendingEvents(ctx context.Context, limit int) ([]emit.Event, error)

	// MarkEventsEmitted marks eventIDs as delivered so PendingEvents
	// stops returning them.
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error

	// Close releases any underlying resources (database handles, etc).
	Close() error
}

// StepRecord is one entry of a run's recorded history.
type StepRecord struct {
	RunID     string
	NodeName  string
	Output    []byte
	CreatedAt time.Time
}

// RecordedIO captures one side-effecting node's external interaction, for
// replay-diffing against a later live run of the same plan.
type RecordedIO struct {
	Request  []byte
	Response []byte
	Hash     string
	Duration time.Duration
}
