// Package observe provides application-wide observability primitives for
// mirchi: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// [Metrics] implements the observer interfaces of the playback scheduler, the
// capture controller, and the WebSocket transport, so one instance can be
// handed to all three.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/mirchi/pkg/audio/capture"
	"github.com/MrWong99/mirchi/pkg/audio/playback"
	"github.com/MrWong99/mirchi/pkg/transport/ws"
)

// meterName is the instrumentation scope name used for all mirchi metrics.
const meterName = "github.com/MrWong99/mirchi"

// Compile-time interface assertions.
var (
	_ playback.Observer = (*Metrics)(nil)
	_ capture.Observer  = (*Metrics)(nil)
	_ ws.Observer       = (*Metrics)(nil)
)

// Metrics holds the OpenTelemetry instruments for playback, capture, transport
// and the HTTP control plane. It is safe for concurrent use.
type Metrics struct {
	// --- Playback ---

	// PlaybackChunks counts inbound speech chunks handed to the scheduler.
	PlaybackChunks metric.Int64Counter

	// PlaybackBytes counts inbound PCM bytes handed to the scheduler.
	PlaybackBytes metric.Int64Counter

	// DecodeDuration tracks per-chunk decode latency. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	DecodeDuration metric.Float64Histogram

	// ScheduleLead tracks how far ahead of the device clock each buffer was
	// scheduled. Zero means the buffer started immediately.
	ScheduleLead metric.Float64Histogram

	// Underruns counts buffers whose start was clamped to the device clock
	// because the cursor had fallen behind.
	Underruns metric.Int64Counter

	// ActiveVoices tracks scheduled buffers that have not finished playing.
	ActiveVoices metric.Int64UpDownCounter

	// DialogueEnds counts dialogue-end callbacks fired.
	DialogueEnds metric.Int64Counter

	// DrainWait tracks the time between the remote dialogue_end status and
	// the ready_for_next reply.
	DrainWait metric.Float64Histogram

	// --- Capture ---

	// CaptureSessions counts push-to-talk session starts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	CaptureSessions metric.Int64Counter

	// ActiveCaptures tracks live capture sessions (0 or 1 per controller).
	ActiveCaptures metric.Int64UpDownCounter

	// CaptureHold tracks how long push-to-talk was held.
	CaptureHold metric.Float64Histogram

	// CaptureChunks counts outbound microphone chunks. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	CaptureChunks metric.Int64Counter

	// --- Transport ---

	// TransportMessages counts messages on the wire. Use with attributes:
	//   attribute.String("direction", "in"|"out"), attribute.String("kind", "audio"|"control")
	TransportMessages metric.Int64Counter

	// TransportBytes counts payload bytes on the wire, with the same
	// attributes as TransportMessages.
	TransportBytes metric.Int64Counter

	// TransportCloses counts connection closures. Use with attribute:
	//   attribute.Bool("clean", ...)
	TransportCloses metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// holdBuckets covers push-to-talk hold times, from a tap to a monologue.
var holdBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Playback.
	if met.PlaybackChunks, err = m.Int64Counter("mirchi.playback.chunks",
		metric.WithDescription("Inbound speech chunks enqueued for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBytes, err = m.Int64Counter("mirchi.playback.bytes",
		metric.WithDescription("Inbound PCM bytes enqueued for playback."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("mirchi.playback.decode.duration",
		metric.WithDescription("Latency of decoding one speech chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("mirchi.playback.schedule_lead",
		metric.WithDescription("Distance between a buffer's scheduled start and the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("mirchi.playback.underruns",
		metric.WithDescription("Buffers clamped to the device clock after a stall."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoices, err = m.Int64UpDownCounter("mirchi.playback.active_voices",
		metric.WithDescription("Scheduled buffers that have not finished playing."),
	); err != nil {
		return nil, err
	}
	if met.DialogueEnds, err = m.Int64Counter("mirchi.dialogue.ends",
		metric.WithDescription("Dialogue turns that fully played out."),
	); err != nil {
		return nil, err
	}
	if met.DrainWait, err = m.Float64Histogram("mirchi.dialogue.drain_wait",
		metric.WithDescription("Time from the remote dialogue_end status to ready_for_next."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Capture.
	if met.CaptureSessions, err = m.Int64Counter("mirchi.capture.sessions",
		metric.WithDescription("Push-to-talk capture session starts by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("mirchi.capture.active",
		metric.WithDescription("Live push-to-talk capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.CaptureHold, err = m.Float64Histogram("mirchi.capture.hold.duration",
		metric.WithDescription("How long push-to-talk was held."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(holdBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureChunks, err = m.Int64Counter("mirchi.capture.chunks",
		metric.WithDescription("Outbound microphone chunks by status."),
	); err != nil {
		return nil, err
	}

	// Transport.
	if met.TransportMessages, err = m.Int64Counter("mirchi.transport.messages",
		metric.WithDescription("Transport messages by direction and kind."),
	); err != nil {
		return nil, err
	}
	if met.TransportBytes, err = m.Int64Counter("mirchi.transport.bytes",
		metric.WithDescription("Transport payload bytes by direction and kind."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TransportCloses, err = m.Int64Counter("mirchi.transport.closes",
		metric.WithDescription("Transport connection closures by cleanliness."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mirchi.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func status(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

func kind(audio bool) attribute.KeyValue {
	if audio {
		return attribute.String("kind", "audio")
	}
	return attribute.String("kind", "control")
}

// ─── playback.Observer ───────────────────────────────────────────────────────

// ChunkEnqueued records an inbound chunk handed to the scheduler.
func (m *Metrics) ChunkEnqueued(ctx context.Context, bytes int) {
	m.PlaybackChunks.Add(ctx, 1)
	m.PlaybackBytes.Add(ctx, int64(bytes))
}

// ChunkDecoded records the latency and outcome of one decode.
func (m *Metrics) ChunkDecoded(ctx context.Context, took time.Duration, err error) {
	m.DecodeDuration.Record(ctx, took.Seconds(), metric.WithAttributes(status(err)))
}

// VoiceScheduled records a buffer started on the output.
func (m *Metrics) VoiceScheduled(ctx context.Context, lead time.Duration, underrun bool) {
	m.ActiveVoices.Add(ctx, 1)
	m.ScheduleLead.Record(ctx, lead.Seconds())
	if underrun {
		m.Underruns.Add(ctx, 1)
	}
}

// VoiceEnded records a buffer that finished playing.
func (m *Metrics) VoiceEnded(ctx context.Context) {
	m.ActiveVoices.Add(ctx, -1)
}

// DialogueEnded records one fired dialogue-end callback.
func (m *Metrics) DialogueEnded(ctx context.Context) {
	m.DialogueEnds.Add(ctx, 1)
}

// RecordDrainWait records the dialogue_end → ready_for_next latency.
func (m *Metrics) RecordDrainWait(ctx context.Context, d time.Duration) {
	m.DrainWait.Record(ctx, d.Seconds())
}

// ─── capture.Observer ────────────────────────────────────────────────────────

// CaptureStarted records a capture session start.
func (m *Metrics) CaptureStarted(ctx context.Context) {
	m.CaptureSessions.Add(ctx, 1, metric.WithAttributes(status(nil)))
	m.ActiveCaptures.Add(ctx, 1)
}

// CaptureStartFailed records a capture session that could not start.
func (m *Metrics) CaptureStartFailed(ctx context.Context, err error) {
	m.CaptureSessions.Add(ctx, 1, metric.WithAttributes(status(err)))
}

// CaptureStopped records the end of a capture session.
func (m *Metrics) CaptureStopped(ctx context.Context, held time.Duration) {
	m.ActiveCaptures.Add(ctx, -1)
	m.CaptureHold.Record(ctx, held.Seconds())
}

// CaptureChunkSent records one outbound microphone chunk.
func (m *Metrics) CaptureChunkSent(ctx context.Context, _ int, err error) {
	m.CaptureChunks.Add(ctx, 1, metric.WithAttributes(status(err)))
}

// ─── ws.Observer ─────────────────────────────────────────────────────────────

// MessageSent records an outbound transport message.
func (m *Metrics) MessageSent(ctx context.Context, audio bool, bytes int) {
	m.recordMessage(ctx, "out", audio, bytes)
}

// MessageReceived records an inbound transport message.
func (m *Metrics) MessageReceived(ctx context.Context, audio bool, bytes int) {
	m.recordMessage(ctx, "in", audio, bytes)
}

// ConnectionClosed records a transport closure.
func (m *Metrics) ConnectionClosed(ctx context.Context, clean bool) {
	m.TransportCloses.Add(ctx, 1, metric.WithAttributes(attribute.Bool("clean", clean)))
}

func (m *Metrics) recordMessage(ctx context.Context, direction string, audio bool, bytes int) {
	attrs := metric.WithAttributes(attribute.String("direction", direction), kind(audio))
	m.TransportMessages.Add(ctx, 1, attrs)
	m.TransportBytes.Add(ctx, int64(bytes), attrs)
}
