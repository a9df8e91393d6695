// Package mock provides an in-memory [transport.Conn] for unit tests.
//
// Inject inbound traffic with Deliver/Open/CloseWith and inspect outbound
// traffic with Sent:
//
//	conn := mock.NewConn()
//	conn.Deliver(transport.StatusMessage(transport.StatusDialogueEnd))
//	// ...
//	sent := conn.Sent()
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/mirchi/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Conn = (*Conn)(nil)

// Conn is a mock [transport.Conn]. It starts ready; SetReady toggles that
// without closing.
type Conn struct {
	// SendErr, when set, is returned by every Send call.
	SendErr error

	events chan transport.Event

	mu         sync.Mutex
	ready      bool
	finished   bool
	sent       []transport.Message
	closeCalls int
	onSend     func(transport.Message)
}

// NewConn returns a ready connection with an EventOpen already queued.
func NewConn() *Conn {
	c := &Conn{events: make(chan transport.Event, 256), ready: true}
	c.events <- transport.Event{Kind: transport.EventOpen}
	return c
}

// Events implements [transport.Conn].
func (c *Conn) Events() <-chan transport.Event { return c.events }

// Ready implements [transport.Conn].
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// SetReady overrides the readiness reported to callers.
func (c *Conn) SetReady(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ok
}

// OnSend registers a hook invoked synchronously for every successful Send.
func (c *Conn) OnSend(fn func(transport.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
}

// Send implements [transport.Conn].
func (c *Conn) Send(_ context.Context, msg transport.Message) error {
	c.mu.Lock()
	if c.SendErr != nil {
		c.mu.Unlock()
		return c.SendErr
	}
	if c.finished {
		c.mu.Unlock()
		return fmt.Errorf("mock: send: %w", transport.ErrClosed)
	}
	c.sent = append(c.sent, msg)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

// Close implements [transport.Conn]. The first call emits a clean EventClose.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.finish(transport.Event{Kind: transport.EventClose, Clean: true, Code: 1000})
	return nil
}

// Deliver injects an inbound message.
func (c *Conn) Deliver(msg transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.events <- transport.Event{Kind: transport.EventMessage, Message: msg}
}

// CloseWith ends the connection with the given terminal events, e.g. an
// EventError followed by an unclean EventClose.
func (c *Conn) CloseWith(evs ...transport.Event) {
	c.finish(evs...)
}

// Fail ends the connection uncleanly with err.
func (c *Conn) Fail(err error) {
	c.finish(
		transport.Event{Kind: transport.EventError, Err: err},
		transport.Event{Kind: transport.EventClose, Code: 1006, Err: err},
	)
}

func (c *Conn) finish(evs ...transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.ready = false
	for _, ev := range evs {
		c.events <- ev
	}
	close(c.events)
}

// Sent returns a copy of all successfully sent messages in order.
func (c *Conn) Sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// Actions returns the control actions sent so far, with "<audio>" standing in
// for each binary message.
func (c *Conn) Actions() []string {
	var out []string
	for _, m := range c.Sent() {
		if m.IsAudio() {
			out = append(out, "<audio>")
			continue
		}
		out = append(out, m.Control.Action)
	}
	return out
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
