package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/mirchi"

// Span names.
const (
	SpanDialogueDrain = "dialogue.drain"
)

// Tracer returns the mirchi tracer from the global provider installed by
// [InitProvider]. Without one, spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartDrainSpan starts a root span covering the wait between a
// dialogue_end status and the ready_for_next reply. queued and active
// describe the playback backlog at the moment the status arrived.
func StartDrainSpan(queued, active int) (context.Context, trace.Span) {
	return StartSpan(context.Background(), SpanDialogueDrain,
		trace.WithNewRoot(),
		trace.WithAttributes(
			attribute.Int("playback.queued", queued),
			attribute.Int("playback.active", active),
		),
	)
}

// FailSpan marks span as failed with reason and records err when non-nil.
func FailSpan(span trace.Span, reason string, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, reason)
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. Each dialogue turn and each control request gets its own.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l annotated with the trace_id and span_id of the span in
// ctx. A nil l means slog.Default; without a span l is returned unchanged.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
