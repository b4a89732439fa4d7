// Package observability records an audit trail of world mutations and
// scheduling faults, separate from the diagnostic log.
package observability

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TBlauwe/Dynamo-sub000/pkg/command"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`  // producing flow/node
	Target    string                 `json:"target,omitempty"` // entity the event concerns
	Action    string                 `json:"action"`           // e.g. "command_applied", "liveness_fault"
	Status    string                 `json:"status"`           // "success", "failure", "skipped"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger handles recording and persisting audit events
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLogger writes JSON audit lines to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLog appends audit lines to the file at path.
func OpenAuditLog(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	a := NewAuditLogger(file)
	a.file = file
	return a, nil
}

// Record emits an audit event to the log file and, when ctx carries a
// recording span, as a span event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("event_type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Target != "" {
		entry.Str("target", event.Target)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// AttachQueue records every applied or failed command of q.
func (a *AuditLogger) AttachQueue(q *command.Queue) {
	q.On(command.EventApplied, func(e command.Event) {
		a.recordCommand(e, "success")
	})
	q.On(command.EventFailed, func(e command.Event) {
		a.recordCommand(e, "failure")
	})
}

func (a *AuditLogger) recordCommand(e command.Event, status string) {
	event := AuditEvent{
		Type:     "command",
		Actor:    e.Source,
		Target:   e.Target.String(),
		Action:   "command_applied",
		Status:   status,
		Metadata: map[string]interface{}{"seq": e.Seq},
	}
	if e.Err != nil {
		event.Metadata["error"] = e.Err.Error()
		if errors.Is(e.Err, command.ErrTargetGone) {
			event.Status = "skipped"
		}
	}
	a.Record(context.Background(), event)
}

// LivenessFault records a stalled flow run. It has the signature of the
// scheduler's fault hook.
func (a *AuditLogger) LivenessFault(f *scheduler.LivenessFault) {
	a.Record(context.Background(), AuditEvent{
		Type:   "scheduler",
		Actor:  f.Flow,
		Target: f.Agent.String(),
		Action: "liveness_fault",
		Status: "failure",
		Metadata: map[string]interface{}{
			"run_id":      f.RunID,
			"running_for": f.RunningFor.String(),
			"window":      f.Window.String(),
		},
	})
}
