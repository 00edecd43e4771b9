// Package emit provides event emission and observability for plan execution.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
// - Text mode (default): human-readable key=value pairs.
// - JSON mode: one JSON object per line.
//
// Example text output:
//
//	[dispatch] runID=run-001 node=m1 service=add
//
// Usage:
//
//	emitter := emit.NewLogEmitter(os.Stdout, false)
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	var errStr string
	if event.Err != nil {
		errStr = event.Err.Error()
	}
	data, err := json.Marshal(struct {
		RunID       string                 `json:"runID"`
		NodeName    string                 `json:"nodeName"`
		ServiceName string                 `json:"serviceName"`
		Status      string                 `json:"status"`
		Err         string                 `json:"err,omitempty"`
		Meta        map[string]interface{} `json:"meta,omitempty"`
	}{
		RunID:       event.RunID,
		NodeName:    event.NodeName,
		ServiceName: event.ServiceName,
		Status:      event.Status,
		Err:         errStr,
		Meta:        event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] runID=%s node=%s service=%s",
		event.Status, event.RunID, event.NodeName, event.ServiceName)
	if event.Err != nil {
		_, _ = fmt.Fprintf(l.writer, " err=%v", event.Err)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes events in order, one per line.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal
// buffering of its own.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
