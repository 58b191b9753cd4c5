package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/brainstorm"

// Tracer returns the brainstorm tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// StartSessionSpan starts the root span of one live session. Everything the
// session logs through [Logger] carries its trace ID.
func StartSessionSpan(ctx context.Context, sessionID, provider string) (context.Context, trace.Span) {
	return StartSpan(ctx, "brainstorm.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.provider", provider),
		),
	)
}

// EndSessionSpan ends a span from [StartSessionSpan] with the state the
// session finished in. A non-nil err marks the span as failed.
func EndSessionSpan(span trace.Span, final string, err error) {
	span.SetAttributes(attribute.String("session.final_state", final))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
