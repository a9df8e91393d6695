// Package session runs one voice call over one transport connection.
//
// A [Session] routes inbound transport events to the playback scheduler,
// answers every played-out dialogue turn with {"action":"ready_for_next"},
// and frames push-to-talk gestures into capture sessions. It does not
// reconnect: an unclean closure resets local state and ends [Session.Run]
// with [ErrConnectionLost], leaving the retry policy to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mirchi/internal/observe"
	"github.com/MrWong99/mirchi/pkg/audio/capture"
	"github.com/MrWong99/mirchi/pkg/audio/playback"
	"github.com/MrWong99/mirchi/pkg/transport"
)

// sendTimeout bounds each control send of a session.
const sendTimeout = 5 * time.Second

var (
	// ErrConnectionLost is returned by [Session.Run] after an unclean
	// transport closure or a transport error.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrCaptureDisabled is returned by [Session.Press] when the session has
	// no capture controller.
	ErrCaptureDisabled = errors.New("session: capture disabled")
)

// State is the connection state of a session.
type State int

const (
	// Connecting means the transport has not reported open yet.
	Connecting State = iota

	// Open means the transport is usable.
	Open

	// Closed means the transport closed cleanly or the session was closed.
	Closed

	// ConnectionError means the transport closed uncleanly or failed.
	ConnectionError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case ConnectionError:
		return "connection_error"
	default:
		return "unknown"
	}
}

// Player is the playback side of a call, implemented by [playback.Scheduler].
type Player interface {
	Enqueue(chunk []byte)
	SignalDialogueEnd()
	SetOnDialogueEnd(fn func())
	Stop()
	Stats() playback.Stats
}

// Capturer is the push-to-talk side of a call, implemented by
// [capture.Controller].
type Capturer interface {
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) error
	Close() error
	State() capture.State
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics the session records drain latency into.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	State    string         `json:"state"`
	Playback PlaybackStatus `json:"playback"`
	Capture  string         `json:"capture"`
	Held     []string       `json:"held,omitempty"`

	ChunksReceived uint64 `json:"chunks_received"`
	DialogueEnds   uint64 `json:"dialogue_ends"`
	ReadySent      uint64 `json:"ready_sent"`

	LastError string `json:"last_error,omitempty"`
}

// PlaybackStatus is the JSON form of [playback.Stats].
type PlaybackStatus struct {
	State    string  `json:"state"`
	Queued   int     `json:"queued"`
	Decoding int     `json:"decoding"`
	Active   int     `json:"active"`
	CursorMS float64 `json:"cursor_ms"`
}

// pendingEnd is a dialogue_end status waiting for playback to drain, and then
// for its ready_for_next to go out.
type pendingEnd struct {
	at      time.Time
	drained time.Time
	ctx     context.Context
	span    trace.Span
}

// Session binds a transport connection to a player and an optional capturer.
// All exported methods are safe for concurrent use.
type Session struct {
	conn    transport.Conn
	player  Player
	capture Capturer // nil when capture is disabled
	trigger *capture.Trigger
	log     *slog.Logger
	metrics *observe.Metrics

	mu        sync.Mutex
	state     State
	pending   []pendingEnd // waiting for playback to drain
	outbox    []pendingEnd // drained, ready_for_next not sent yet
	chunks    uint64
	ends      uint64
	readySent uint64
	lastErr   error

	// ready_for_next is sent off the event loop so a slow peer cannot stall
	// inbound audio.
	wake       chan struct{}
	sendCtx    context.Context
	stopSender context.CancelFunc
	senderDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates a Session and registers its dialogue-end callback on player.
// ctrl may be nil, in which case gestures fail with [ErrCaptureDisabled].
func New(conn transport.Conn, player Player, ctrl Capturer, opts ...Option) *Session {
	s := &Session{
		conn:    conn,
		player:  player,
		capture: ctrl,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
		state:   Connecting,
	}
	for _, o := range opts {
		o(s)
	}
	s.trigger = capture.NewTrigger(s.gestureDown, s.gestureUp)
	s.wake = make(chan struct{}, 1)
	s.senderDone = make(chan struct{})
	s.sendCtx, s.stopSender = context.WithCancel(context.Background())
	player.SetOnDialogueEnd(s.readyForNext)
	go s.runSender()
	return s
}

// Run consumes transport events until the connection ends or ctx is
// cancelled. Inbound binary messages are enqueued for playback and a
// {"status":"dialogue_end"} control is signalled to the player. A clean
// closure returns nil; an unclean closure or transport error resets playback
// and capture and returns [ErrConnectionLost]. Cancelling ctx returns nil
// without touching the connection; call [Session.Close] to tear down.
func (s *Session) Run(ctx context.Context) error {
	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return s.lost(errors.New("event stream ended without close"))
			}
			switch ev.Kind {
			case transport.EventOpen:
				s.setState(Open)
				s.log.Info("session: transport open")
			case transport.EventMessage:
				s.handleMessage(ev.Message)
			case transport.EventError:
				s.mu.Lock()
				s.lastErr = ev.Err
				s.mu.Unlock()
				s.log.Warn("session: transport error", "err", ev.Err)
			case transport.EventClose:
				if ev.Clean {
					s.log.Info("session: transport closed", "code", ev.Code, "reason", ev.Reason)
					s.closedCleanly()
					return nil
				}
				return s.lost(ev.Err)
			}
		}
	}
}

func (s *Session) handleMessage(msg transport.Message) {
	if msg.IsAudio() {
		s.mu.Lock()
		s.chunks++
		s.mu.Unlock()
		s.player.Enqueue(msg.Audio)
		return
	}

	c := msg.Control
	if c.Status != transport.StatusDialogueEnd {
		s.log.Debug("session: ignoring control message", "control", c.String())
		return
	}

	stats := s.player.Stats()
	ctx, span := observe.StartDrainSpan(stats.Queued, stats.Active)
	s.mu.Lock()
	s.ends++
	s.pending = append(s.pending, pendingEnd{at: time.Now(), ctx: ctx, span: span})
	s.mu.Unlock()

	observe.WithTrace(ctx, s.log).Debug("session: dialogue end received", "queued", stats.Queued, "active", stats.Active)

	// May call readyForNext synchronously.
	s.player.SignalDialogueEnd()
}

// readyForNext is the player's dialogue-end callback. It pairs the drain with
// the oldest pending dialogue_end and queues the reply for the sender.
func (s *Session) readyForNext() {
	s.mu.Lock()
	var p pendingEnd
	if len(s.pending) > 0 {
		p = s.pending[0]
		s.pending = s.pending[1:]
	} else {
		p.at = time.Now()
		p.ctx, p.span = observe.StartDrainSpan(0, 0)
	}
	p.drained = time.Now()
	s.outbox = append(s.outbox, p)
	s.mu.Unlock()

	s.metrics.RecordDrainWait(p.ctx, p.drained.Sub(p.at))
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// runSender sends queued ready_for_next replies in order until the session
// is closed.
func (s *Session) runSender() {
	defer close(s.senderDone)
	for {
		select {
		case <-s.sendCtx.Done():
			return
		case <-s.wake:
		}
		for s.sendCtx.Err() == nil {
			s.mu.Lock()
			if len(s.outbox) == 0 {
				s.mu.Unlock()
				break
			}
			p := s.outbox[0]
			s.outbox = s.outbox[1:]
			s.mu.Unlock()
			s.sendReady(p)
		}
	}
}

func (s *Session) sendReady(p pendingEnd) {
	defer p.span.End()
	log := observe.WithTrace(p.ctx, s.log)

	if !s.conn.Ready() {
		observe.FailSpan(p.span, "transport not ready", nil)
		log.Warn("session: playback drained but transport is not ready; ready_for_next dropped")
		return
	}

	ctx, cancel := context.WithTimeout(trace.ContextWithSpan(s.sendCtx, p.span), sendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, transport.ActionMessage(transport.ActionReadyForNext)); err != nil {
		observe.FailSpan(p.span, "send failed", err)
		log.Warn("session: send ready_for_next", "err", err)
		return
	}

	s.mu.Lock()
	s.readySent++
	s.mu.Unlock()
	log.Info("session: ready for next",
		"drain_wait", p.drained.Sub(p.at).Round(time.Millisecond),
		"send_delay", time.Since(p.drained).Round(time.Millisecond))
}

// Press routes a push-to-talk gesture-down from source.
func (s *Session) Press(source string) error {
	if s.capture == nil {
		return ErrCaptureDisabled
	}
	return s.trigger.Press(source)
}

// Release routes a push-to-talk gesture-up from source.
func (s *Session) Release(source string) error {
	if s.capture == nil {
		return ErrCaptureDisabled
	}
	return s.trigger.Release(source)
}

func (s *Session) gestureDown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.capture.StartCapture(ctx); err != nil {
		return fmt.Errorf("session: start capture: %w", err)
	}
	return nil
}

func (s *Session) gestureUp() error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.capture.StopCapture(ctx); err != nil {
		return fmt.Errorf("session: stop capture: %w", err)
	}
	return nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	ps := s.player.Stats()
	st := Status{
		Playback: PlaybackStatus{
			State:    ps.State.String(),
			Queued:   ps.Queued,
			Decoding: ps.Decoding,
			Active:   ps.Active,
			CursorMS: float64(ps.Cursor) / float64(time.Millisecond),
		},
		Capture: "disabled",
	}
	if s.capture != nil {
		st.Capture = s.capture.State().String()
		st.Held = s.trigger.Held()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.State = s.state.String()
	st.ChunksReceived = s.chunks
	st.DialogueEnds = s.ends
	st.ReadySent = s.readySent
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the session down: capture first, then playback, then the
// transport. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		s.trigger.Reset()
		if s.capture != nil {
			if err := s.capture.Close(); err != nil {
				errs = append(errs, fmt.Errorf("session: close capture: %w", err))
			}
		}
		s.player.Stop()
		s.stopSender()
		<-s.senderDone
		s.abandonPending("session closed")
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close transport: %w", err))
		}

		s.mu.Lock()
		if s.state != ConnectionError {
			s.state = Closed
		}
		s.mu.Unlock()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// lost handles an unclean end of the connection.
func (s *Session) lost(err error) error {
	s.mu.Lock()
	s.state = ConnectionError
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()

	s.log.Error("session: connection lost", "err", err)
	s.trigger.Reset()
	if s.capture != nil {
		if cerr := s.capture.Close(); cerr != nil {
			s.log.Warn("session: close capture", "err", cerr)
		}
	}
	s.player.Stop()
	s.abandonPending("connection lost")

	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return ErrConnectionLost
}

// closedCleanly stops capture after a clean remote closure. Queued playback
// is left to finish.
func (s *Session) closedCleanly() {
	s.setState(Closed)
	s.trigger.Reset()
	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.log.Warn("session: close capture", "err", err)
		}
	}
}

func (s *Session) abandonPending(reason string) {
	s.mu.Lock()
	pending := append(s.pending, s.outbox...)
	s.pending, s.outbox = nil, nil
	s.mu.Unlock()
	for _, p := range pending {
		observe.FailSpan(p.span, reason, nil)
		p.span.End()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}
