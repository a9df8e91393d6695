// Package ws implements [transport.Conn] over a WebSocket using
// github.com/coder/websocket.
//
// Binary frames carry raw PCM audio; text frames carry JSON control messages.
// A close with status 1000 (normal) or 1001 (going away) is reported as a
// clean close; anything else, including a dropped TCP connection, is unclean.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/mirchi/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Conn = (*Conn)(nil)

const (
	// DefaultReadLimit bounds the size of one inbound frame.
	DefaultReadLimit = 1 << 20

	// DefaultEventBuffer is the capacity of the events channel.
	DefaultEventBuffer = 64
)

// Observer receives transport telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	MessageSent(ctx context.Context, audio bool, bytes int)
	MessageReceived(ctx context.Context, audio bool, bytes int)
	ConnectionClosed(ctx context.Context, clean bool)
}

type nopObserver struct{}

func (nopObserver) MessageSent(context.Context, bool, int)     {}
func (nopObserver) MessageReceived(context.Context, bool, int) {}
func (nopObserver) ConnectionClosed(context.Context, bool)     {}

type options struct {
	header    http.Header
	readLimit int64
	buffer    int
	missionID string
	log       *slog.Logger
	obs       Observer
}

// Option configures a connection.
type Option func(*options)

// WithHeader adds HTTP headers to the dial handshake. Ignored by [Accept].
func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h
	}
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithMissionID adds a mission_id query parameter to the dial URL. Ignored by
// [Accept].
func WithMissionID(id string) Option {
	return func(o *options) {
		o.missionID = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver registers a telemetry observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.obs = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		readLimit: DefaultReadLimit,
		buffer:    DefaultEventBuffer,
		log:       slog.Default(),
		obs:       nopObserver{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Dial connects to the dialogue server at rawURL.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ws: parse url: %w", err)
	}
	if o.missionID != "" {
		q := u.Query()
		q.Set("mission_id", o.missionID)
		u.RawQuery = q.Encode()
	}

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: o.header,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	return newConn(c, o.log.With("peer", u.Host), o), nil
}

// Accept upgrades an HTTP request to a server-side connection.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: accept: %w", err)
	}
	return newConn(c, o.log.With("peer", r.RemoteAddr), o), nil
}

// Conn is a WebSocket [transport.Conn].
type Conn struct {
	c      *websocket.Conn
	log    *slog.Logger
	obs    Observer
	events chan transport.Event

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // keeps frames in Send call order

	mu     sync.Mutex
	closed bool // set by Close or when the read loop exits
	local  bool // Close was called
}

func newConn(c *websocket.Conn, log *slog.Logger, o options) *Conn {
	c.SetReadLimit(o.readLimit)
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		c:      c,
		log:    log,
		obs:    o.obs,
		events: make(chan transport.Event, o.buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	conn.events <- transport.Event{Kind: transport.EventOpen}
	go conn.readLoop()
	return conn
}

// Events implements [transport.Conn].
func (c *Conn) Events() <-chan transport.Event { return c.events }

// Ready implements [transport.Conn].
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send implements [transport.Conn].
func (c *Conn) Send(ctx context.Context, msg transport.Message) error {
	if !c.Ready() {
		return fmt.Errorf("ws: send: %w", transport.ErrClosed)
	}

	typ := websocket.MessageBinary
	data := msg.Audio
	if !msg.IsAudio() {
		var err error
		data, err = json.Marshal(msg.Control)
		if err != nil {
			return fmt.Errorf("ws: marshal control: %w", err)
		}
		typ = websocket.MessageText
	}

	c.writeMu.Lock()
	err := c.c.Write(ctx, typ, data)
	c.writeMu.Unlock()
	if err != nil {
		if !c.Ready() {
			return fmt.Errorf("ws: send: %w", transport.ErrClosed)
		}
		return fmt.Errorf("ws: send: %w", err)
	}
	c.obs.MessageSent(ctx, msg.IsAudio(), len(data))
	return nil
}

// Close implements [transport.Conn]. It performs the close handshake with
// status 1000.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.local {
		c.mu.Unlock()
		return nil
	}
	c.local = true
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if !wasClosed {
		if err := c.c.Close(websocket.StatusNormalClosure, "client closed"); err != nil {
			c.log.Debug("ws: close handshake incomplete", "err", err)
		}
	}
	c.cancel()
	return nil
}

// readLoop reads frames until the connection ends. It owns the events channel
// and closes it after the final EventClose.
func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		typ, data, err := c.c.Read(c.ctx)
		if err != nil {
			c.finish(err)
			return
		}

		var msg transport.Message
		switch typ {
		case websocket.MessageBinary:
			msg = transport.AudioMessage(data)
		case websocket.MessageText:
			var ctl transport.Control
			if err := json.Unmarshal(data, &ctl); err != nil {
				c.log.Warn("ws: dropping malformed control message", "err", err, "bytes", len(data))
				continue
			}
			msg = transport.Message{Control: &ctl}
		}
		c.obs.MessageReceived(c.ctx, msg.IsAudio(), len(data))

		select {
		case c.events <- transport.Event{Kind: transport.EventMessage, Message: msg}:
		case <-c.ctx.Done():
		}
	}
}

// finish classifies the read error and emits the terminal events.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	local := c.local
	c.closed = true
	c.mu.Unlock()

	status := websocket.CloseStatus(err)
	ev := transport.Event{Kind: transport.EventClose, Code: int(status)}
	switch {
	case local:
		ev.Clean = true
		ev.Code = int(websocket.StatusNormalClosure)
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		ev.Clean = true
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			ev.Reason = ce.Reason
		}
	default:
		ev.Err = err
		c.log.Warn("ws: connection lost", "err", err, "status", int(status))
	}
	c.obs.ConnectionClosed(context.Background(), ev.Clean)

	if !ev.Clean {
		if !c.emitFinal(transport.Event{Kind: transport.EventError, Err: err}) {
			return
		}
	}
	c.emitFinal(ev)
	if !local {
		// Release the underlying connection; the peer is gone.
		_ = c.c.CloseNow()
		c.cancel()
	}
}

// emitFinal delivers a terminal event. It gives up once Close has been
// called and the channel is full, since nobody is obliged to read it then.
func (c *Conn) emitFinal(ev transport.Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}
