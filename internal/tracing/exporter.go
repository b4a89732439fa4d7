package tracing

import (
	"context"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes ended spans to a zerolog logger, one line per span.
type LogExporter struct {
	logger zerolog.Logger
}

// NewLogExporter creates a span exporter writing to logger.
func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger.With().Str("component", "tracing").Logger()}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		sc := s.SpanContext()
		attrs := zerolog.Dict()
		for _, kv := range s.Attributes() {
			attrs.Str(string(kv.Key), kv.Value.Emit())
		}

		entry := e.logger.Debug().
			Str("span", s.Name()).
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime())).
			Str("status", s.Status().Code.String()).
			Dict("attributes", attrs).
			Int("events", len(s.Events()))
		if s.Parent().IsValid() {
			entry.Str("parent_id", s.Parent().SpanID().String())
		}
		if desc := s.Status().Description; desc != "" {
			entry.Str("error", desc)
		}
		entry.Msg("Span ended")

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error { return nil }
