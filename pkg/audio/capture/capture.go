// Package capture implements push-to-talk microphone capture.
//
// A [Controller] owns at most one capture session at a time. Starting a
// session opens the microphone, announces {"action":"start_speech"} on the
// sink, and pumps converted audio outbound in fixed-duration chunks. Stopping
// flushes the last partial chunk, announces {"action":"stop_speech"}, and
// releases the microphone. Gesture sources (keyboard, pointer) are merged into
// one down/up pair by a [Trigger].
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/transport"
)

// DefaultChunkDuration is the amount of audio carried by one outbound chunk.
const DefaultChunkDuration = 100 * time.Millisecond

const (
	// chunkSendTimeout bounds a single outbound audio send.
	chunkSendTimeout = 5 * time.Second

	// closeTimeout bounds the flush and stop_speech of [Controller.Close].
	closeTimeout = 2 * time.Second
)

var (
	// ErrTransportNotReady is returned by [Controller.StartCapture] when the
	// sink cannot send. Nothing is opened or sent.
	ErrTransportNotReady = errors.New("capture: transport not ready")

	// ErrClosed is returned by [Controller.StartCapture] after Close.
	ErrClosed = errors.New("capture: controller closed")
)

// State is the push-to-talk state.
type State int

const (
	// Released means no capture session exists.
	Released State = iota

	// Pressed means a capture session is streaming.
	Pressed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Pressed:
		return "PRESSED"
	default:
		return "UNKNOWN"
	}
}

// Sender is the outbound half of a transport.
type Sender interface {
	Ready() bool
	Send(ctx context.Context, msg transport.Message) error
}

// Observer receives capture telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	CaptureStarted(ctx context.Context)
	CaptureStartFailed(ctx context.Context, err error)
	CaptureStopped(ctx context.Context, held time.Duration)
	CaptureChunkSent(ctx context.Context, bytes int, err error)
}

type nopObserver struct{}

func (nopObserver) CaptureStarted(context.Context)                {}
func (nopObserver) CaptureStartFailed(context.Context, error)     {}
func (nopObserver) CaptureStopped(context.Context, time.Duration) {}
func (nopObserver) CaptureChunkSent(context.Context, int, error)  {}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithFormat sets the outbound audio format. Defaults to
// [audio.CaptureFormat].
func WithFormat(f audio.Format) Option {
	return func(c *Controller) {
		if f.SampleRate > 0 && f.Channels > 0 {
			c.format = f
		}
	}
}

// WithChunkDuration sets how much audio each outbound chunk carries.
func WithChunkDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.chunk = d
		}
	}
}

// WithEchoCancellation sets whether echo cancellation is requested from the
// microphone. Enabled by default.
func WithEchoCancellation(on bool) Option {
	return func(c *Controller) {
		c.echo = on
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.obs = o
		}
	}
}

// Info describes the active capture session.
type Info struct {
	ID      string
	Started time.Time
}

type session struct {
	Info
	stream audio.MicStream
	stop   chan struct{}
	done   chan struct{}

	// ctx scopes the pump's sends; cancel aborts one that is stuck.
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller is the push-to-talk capture state machine.
//
// All exported methods are safe for concurrent use. Start and stop operations
// are serialized.
type Controller struct {
	mic    audio.Microphone
	sink   Sender
	format audio.Format
	chunk  time.Duration
	echo   bool
	log    *slog.Logger
	obs    Observer

	opMu sync.Mutex // serializes StartCapture, StopCapture and Close

	mu     sync.Mutex
	sess   *session
	closed bool
}

// New creates a Controller that captures from mic and sends to sink.
func New(mic audio.Microphone, sink Sender, opts ...Option) *Controller {
	c := &Controller{
		mic:    mic,
		sink:   sink,
		format: audio.CaptureFormat,
		chunk:  DefaultChunkDuration,
		echo:   true,
		log:    slog.Default(),
		obs:    nopObserver{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current push-to-talk state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return Pressed
	}
	return Released
}

// Session returns the active session, if any.
func (c *Controller) Session() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Info{}, false
	}
	return c.sess.Info, true
}

// StartCapture begins a capture session. It is a no-op while a session is
// active. When the sink is not ready it returns [ErrTransportNotReady] without
// touching the microphone. A microphone failure is returned wrapped (see
// [audio.ErrPermissionDenied]); in that case nothing is sent and the state
// stays [Released].
//
// ctx bounds the microphone open and the start_speech send; the session
// itself runs until StopCapture or Close.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, active := c.closed, c.sess != nil
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case active:
		return nil
	case !c.sink.Ready():
		return ErrTransportNotReady
	}

	stream, err := c.mic.Open(ctx, audio.CaptureOptions{Format: c.format, EchoCancellation: c.echo})
	if err != nil {
		c.obs.CaptureStartFailed(ctx, err)
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	if err := c.sink.Send(ctx, transport.ActionMessage(transport.ActionStartSpeech)); err != nil {
		_ = stream.Close()
		audio.Drain(stream.Frames())
		c.obs.CaptureStartFailed(ctx, err)
		return fmt.Errorf("capture: send %s: %w", transport.ActionStartSpeech, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		Info:   Info{ID: uuid.NewString(), Started: time.Now()},
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    pumpCtx,
		cancel: cancel,
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	go c.pump(s)

	c.obs.CaptureStarted(ctx)
	c.log.Info("capture: started", "session_id", s.ID, "format", c.format.String())
	return nil
}

// StopCapture ends the active session: remaining audio is flushed, then
// stop_speech is sent, then the microphone is released. It is a no-op when no
// session is active. The microphone is released even if the send fails.
//
// If ctx ends before the flush completes, the pending send is aborted,
// stop_speech is skipped and the microphone is released anyway.
func (c *Controller) StopCapture(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx)
}

// Close force-stops any active session and makes later StartCapture calls
// fail with [ErrClosed]. It is idempotent.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.stopLocked(ctx)
}

// stopLocked must be called with opMu held.
func (c *Controller) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	defer s.cancel()
	close(s.stop)

	var sendErr error
	flushed := true
	select {
	case <-s.done:
	case <-ctx.Done():
		s.cancel()
		flushed = false
		sendErr = fmt.Errorf("capture: flush: %w", ctx.Err())
		c.log.Warn("capture: outbound flush abandoned", "session_id", s.ID, "err", ctx.Err())
	}

	if flushed && c.sink.Ready() {
		if err := c.sink.Send(ctx, transport.ActionMessage(transport.ActionStopSpeech)); err != nil {
			sendErr = fmt.Errorf("capture: send %s: %w", transport.ActionStopSpeech, err)
		}
	}

	closeErr := s.stream.Close()
	audio.Drain(s.stream.Frames())
	if closeErr != nil {
		closeErr = fmt.Errorf("capture: close microphone: %w", closeErr)
	}

	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()

	held := time.Since(s.Started)
	c.obs.CaptureStopped(ctx, held)
	c.log.Info("capture: stopped", "session_id", s.ID, "held", held.Round(time.Millisecond))
	return errors.Join(sendErr, closeErr)
}

// pump converts microphone frames to the outbound format and sends them in
// fixed-size chunks until stop is closed or the stream ends. On stop it takes
// whatever frames are already buffered, then sends the partial remainder.
func (c *Controller) pump(s *session) {
	defer close(s.done)

	log := c.log.With("session_id", s.ID)
	conv := &audio.FormatConverter{Target: c.format}
	size := c.format.Bytes(c.chunk)
	var buf []byte

	send := func(chunk []byte) {
		ctx, cancel := context.WithTimeout(s.ctx, chunkSendTimeout)
		err := c.sink.Send(ctx, transport.AudioMessage(chunk))
		cancel()
		c.obs.CaptureChunkSent(s.ctx, len(chunk), err)
		if err != nil {
			log.Warn("capture: dropping chunk", "err", err, "bytes", len(chunk))
		}
	}
	add := func(fr audio.AudioFrame) {
		buf = append(buf, conv.Convert(fr).Data...)
		for len(buf) >= size {
			chunk := make([]byte, size)
			copy(chunk, buf)
			buf = append(buf[:0], buf[size:]...)
			send(chunk)
		}
	}

	frames := s.stream.Frames()
	for {
		select {
		case fr, ok := <-frames:
			if !ok {
				log.Debug("capture: microphone stream ended")
				if len(buf) > 0 {
					send(buf)
				}
				return
			}
			add(fr)
		case <-s.stop:
			for pending := true; pending; {
				select {
				case fr, ok := <-frames:
					if !ok {
						pending = false
						break
					}
					add(fr)
				default:
					pending = false
				}
			}
			if len(buf) > 0 {
				send(buf)
			}
			return
		}
	}
}
