package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names accepted by NewExporter.
const (
	ExporterLog    = "log"
	ExporterStdout = "stdout"
)

// Options configures the tracer provider.
type Options struct {
	ServiceName string
	// Exporter receives ended spans through a batching processor. Without
	// one, spans are recorded but never leave the process.
	Exporter    sdktrace.SpanExporter
	SampleRatio float64
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// NewExporter builds the exporter named kind. stdout writes OpenTelemetry
// JSON to w; log writes one line per span to logger.
func NewExporter(kind string, w io.Writer, logger zerolog.Logger) (sdktrace.SpanExporter, error) {
	switch kind {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterLog:
		return NewLogExporter(logger), nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", kind)
	}
}

// NewTracerProvider builds a provider sampling opts.SampleRatio of root
// traces and batching spans into opts.Exporter.
func NewTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithResource(res),
	}
	if opts.Exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(opts.Exporter))
	}
	return sdktrace.NewTracerProvider(tpOpts...), nil
}

// InitOpenTelemetry installs a process-wide tracer provider. A provider
// installed by an earlier call is shut down first.
func InitOpenTelemetry(ctx context.Context, opts Options) error {
	tp, err := NewTracerProvider(ctx, opts)
	if err != nil {
		return err
	}

	providerMu.Lock()
	previous := provider
	provider = tp
	providerMu.Unlock()

	otel.SetTracerProvider(tp)
	if previous != nil {
		return previous.Shutdown(ctx)
	}
	return nil
}

// ShutdownOpenTelemetry flushes pending spans to the exporter and shuts
// down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and records its trace id in the context so loggers
// derived with LoggerFromContext carry it. Without InitOpenTelemetry the
// global no-op provider is used.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
