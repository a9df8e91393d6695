package observe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the request's trace ID back to the caller.
const CorrelationHeader = "X-Correlation-ID"

// probePaths are scraped or polled constantly; their completions are logged
// at debug level.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// responseRecorder remembers the status and body size written downstream.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// Middleware wraps the control plane. Every request runs inside a server
// span continued from an incoming traceparent; the trace ID is echoed in
// [CorrelationHeader] and traceparent. Completion records
// [Metrics.HTTPRequestDuration] and one log line; 5xx responses fail the span.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := startRequestSpan(prop, r)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set(CorrelationHeader, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			finishRequest(ctx, m, span, r, rec, time.Since(start))
		})
	}
}

func startRequestSpan(prop propagation.TextMapPropagator, r *http.Request) (context.Context, trace.Span) {
	ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
}

func finishRequest(ctx context.Context, m *Metrics, span trace.Span, r *http.Request, rec *responseRecorder, took time.Duration) {
	m.HTTPRequestDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
		),
	)

	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
	if rec.status >= http.StatusInternalServerError {
		FailSpan(span, http.StatusText(rec.status), nil)
	}

	level := slog.LevelInfo
	if probePaths[r.URL.Path] {
		level = slog.LevelDebug
	}
	WithTrace(ctx, nil).LogAttrs(ctx, level, "control: request completed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Int("bytes", rec.bytes),
		slog.Duration("duration", took),
	)
}
