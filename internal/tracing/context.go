package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for a flow run ID
	RunIDKey ContextKey = "run_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
	// FlowKey is the context key for the flow name
	FlowKey ContextKey = "flow"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	RunID   string
	AgentID string
	Flow    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithFlow adds a flow name to the context
func WithFlow(ctx context.Context, flow string) context.Context {
	return context.WithValue(ctx, FlowKey, flow)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return getString(ctx, RunIDKey) }

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string { return getString(ctx, AgentIDKey) }

// GetFlow retrieves the flow name from the context
func GetFlow(ctx context.Context) string { return getString(ctx, FlowKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		RunID:   GetRunID(ctx),
		AgentID: GetAgentID(ctx),
		Flow:    GetFlow(ctx),
	}
}

// NewFlowRunContext creates a context for one flow run.
func NewFlowRunContext(ctx context.Context, runID, agentID, flow string) context.Context {
	ctx = WithRunID(ctx, runID)
	ctx = WithAgentID(ctx, agentID)
	return WithFlow(ctx, flow)
}

// LoggerFromContext adds the tracing fields found in ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agent_id", tc.AgentID)
	}
	if tc.Flow != "" {
		lc = lc.Str("flow", tc.Flow)
	}
	return lc.Logger()
}
