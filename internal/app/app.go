// Package app wires the Radio Mirchi subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the output timeline, the
// optional microphone and the transport dialer from config, Run supervises
// one session per connection until the dialogue ends or ctx is cancelled, and
// Shutdown releases the devices.
//
// For testing, inject doubles via functional options (WithOutput,
// WithMicrophone, WithDialer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mirchi/internal/config"
	"github.com/MrWong99/mirchi/internal/control"
	"github.com/MrWong99/mirchi/internal/observe"
	"github.com/MrWong99/mirchi/internal/session"
	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/capture"
	"github.com/MrWong99/mirchi/pkg/audio/device"
	"github.com/MrWong99/mirchi/pkg/audio/playback"
	"github.com/MrWong99/mirchi/pkg/transport"
	"github.com/MrWong99/mirchi/pkg/transport/ws"
)

// Dialer opens one transport connection to the dialogue server.
type Dialer func(ctx context.Context) (transport.Conn, error)

// App owns all subsystem lifetimes and supervises the dialogue session.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	levelVar *slog.LevelVar
	metrics  *observe.Metrics

	timeline *device.Timeline // nil when an output was injected
	out      audio.Output
	mic      audio.Microphone // nil when capture is disabled
	dial     Dialer

	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	current  *session.Session
	sessions int

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOutput plays audio on out instead of a timeline built from config.
// Filter hot-reload is unavailable with an injected output.
func WithOutput(out audio.Output) Option {
	return func(a *App) { a.out = out }
}

// WithMicrophone injects a microphone instead of opening capture.input.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithDialer injects the transport dialer.
func WithDialer(d Dialer) Option {
	return func(a *App) { a.dial = d }
}

// WithMetrics overrides the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithLevelVar lets ApplyConfig change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Devices named in the config are opened
// synchronously; the transport is not dialled until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		maxRetries: cfg.Transport.Reconnect.MaxRetries,
		backoff:    cfg.Transport.Reconnect.Backoff,
		maxBackoff: cfg.Transport.Reconnect.MaxBackoff,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initOutput(); err != nil {
		return nil, fmt.Errorf("app: init output: %w", err)
	}
	a.initMicrophone()
	if a.dial == nil {
		a.dial = wsDialer(cfg.Transport, a.log, a.metrics)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initOutput builds the render timeline on stdout or the configured file.
func (a *App) initOutput() error {
	if a.out != nil {
		return nil
	}

	pc := a.cfg.Playback
	w := os.Stdout
	if pc.Output != config.DefaultOutput {
		f, err := os.Create(pc.Output)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f.Close)
		w = f
	}

	a.timeline = device.NewTimeline(w, pc.Format(),
		device.WithFrameDuration(pc.FrameDuration),
		device.WithFilter(pc.Filter.Spec()),
		device.WithTimelineLogger(a.log),
	)
	a.out = a.timeline
	return nil
}

// initMicrophone reads capture.input when one is configured and no
// microphone was injected.
func (a *App) initMicrophone() {
	if a.mic != nil {
		return
	}
	cc := a.cfg.Capture
	if cc.Input == "" {
		a.log.Info("app: no capture input configured, push-to-talk disabled")
		return
	}
	a.mic = &device.PipeMicrophone{
		Path:   cc.Input,
		Format: cc.InputFormat(),
		Pace:   cc.Pace,
		Logger: a.log,
	}
}

// wsDialer dials the configured WebSocket endpoint. The dial timeout bounds
// only the handshake.
func wsDialer(tc config.TransportConfig, log *slog.Logger, m *observe.Metrics) Dialer {
	header := http.Header{}
	for k, v := range tc.Headers {
		header.Set(k, v)
	}
	return func(ctx context.Context) (transport.Conn, error) {
		if tc.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, tc.DialTimeout)
			defer cancel()
		}
		conn, err := ws.Dial(ctx, tc.URL,
			ws.WithHeader(header),
			ws.WithReadLimit(tc.ReadLimit),
			ws.WithMissionID(tc.MissionID),
			ws.WithLogger(log),
			ws.WithObserver(m),
		)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run renders audio and supervises the dialogue session until the server
// closes the connection cleanly and queued playback has finished, reconnection
// gives up, or ctx is cancelled. Cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if a.timeline != nil {
		g.Go(func() error {
			if err := a.timeline.Run(gctx); err != nil {
				return fmt.Errorf("app: render: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return a.supervise(gctx)
	})
	return g.Wait()
}

// supervise dials, serves one session per connection and redials with
// exponential backoff after a lost connection.
func (a *App) supervise(ctx context.Context) error {
	failures := 0
	delay := a.backoff

	for {
		conn, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures > a.maxRetries {
				return fmt.Errorf("app: dial transport after %d attempts: %w", failures, err)
			}
			a.log.Warn("app: dial failed",
				"attempt", failures,
				"max_retries", a.maxRetries,
				"backoff", delay,
				"err", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, a.maxBackoff)
			continue
		}
		failures = 0
		delay = a.backoff

		err = a.serve(ctx, conn)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, session.ErrConnectionLost) && a.maxRetries > 0:
			a.log.Warn("app: reconnecting", "err", err)
		default:
			return fmt.Errorf("app: %w", err)
		}
	}
}

// serve runs one session on conn. After a clean close it waits for queued
// playback to finish before releasing the session.
func (a *App) serve(ctx context.Context, conn transport.Conn) error {
	pc, cc := a.cfg.Playback, a.cfg.Capture

	sched := playback.New(
		device.WAVDecoder{Target: pc.Format()},
		a.out,
		pc.Format(),
		playback.WithLookahead(pc.DecodeLookahead),
		playback.WithLogger(a.log),
		playback.WithObserver(a.metrics),
	)

	var ctrl session.Capturer
	if a.mic != nil {
		ctrl = capture.New(a.mic, conn,
			capture.WithFormat(cc.Format()),
			capture.WithChunkDuration(cc.ChunkDuration),
			capture.WithEchoCancellation(cc.EchoCancellation),
			capture.WithLogger(a.log),
			capture.WithObserver(a.metrics),
		)
	}

	sess := session.New(conn, sched, ctrl,
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
	)
	a.mu.Lock()
	a.current = sess
	a.sessions++
	n := a.sessions
	a.mu.Unlock()
	a.log.Info("app: session started", "session", n)

	err := sess.Run(ctx)
	if err == nil && ctx.Err() == nil {
		a.log.Info("app: dialogue finished, waiting for playback")
		a.waitPlayout(ctx, sched)
	}
	if cerr := sess.Close(); cerr != nil {
		a.log.Warn("app: close session", "err", cerr)
	}
	return err
}

// waitPlayout blocks until sched has nothing queued, decoding or playing.
func (a *App) waitPlayout(ctx context.Context, sched *playback.Scheduler) {
	tick := time.NewTicker(a.cfg.Playback.FrameDuration)
	defer tick.Stop()
	for {
		st := sched.Stats()
		if st.State == playback.Idle && st.Queued == 0 && st.Active == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// ─── control.Target ──────────────────────────────────────────────────────────

func (a *App) currentSession() *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Press forwards a push-to-talk press to the current session.
func (a *App) Press(source string) error {
	s := a.currentSession()
	if s == nil {
		return control.ErrNoSession
	}
	return s.Press(source)
}

// Release forwards a push-to-talk release to the current session.
func (a *App) Release(source string) error {
	s := a.currentSession()
	if s == nil {
		return control.ErrNoSession
	}
	return s.Release(source)
}

// Status reports the current session. Before the first dial completes the
// state is "connecting".
func (a *App) Status() session.Status {
	s := a.currentSession()
	if s == nil {
		return session.Status{State: session.Connecting.String(), Capture: "disabled"}
	}
	return s.Status()
}

// Ready reports whether the current session's transport is open.
func (a *App) Ready() bool {
	s := a.currentSession()
	return s != nil && s.State() == session.Open
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next and logs the fields
// that need a restart. It is the [config.Watcher] change callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		a.log.Info("app: log level changed", "level", d.NewLogLevel)
	}

	if d.FilterChanged {
		switch {
		case a.timeline == nil:
			a.log.Warn("app: filter change ignored, output has no filter stage")
		default:
			if err := a.timeline.SetFilter(d.NewFilter.Spec()); err != nil {
				a.log.Warn("app: apply filter", "err", err)
			} else {
				a.log.Info("app: filter changed", "enabled", d.NewFilter.Enabled)
			}
		}
	}

	if len(d.RestartRequired) > 0 {
		a.log.Warn("app: config change needs restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the current session and then the devices. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "closers", len(a.closers))

		if s := a.currentSession(); s != nil {
			if err := s.Close(); err != nil {
				a.log.Warn("app: close session", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("app: closer error", "index", i, "err", err)
			}
		}

		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}
