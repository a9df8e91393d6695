// Package transport defines the duplex message channel between mirchi and the
// remote dialogue server.
//
// The channel carries two kinds of message in both directions: binary frames
// of raw s16le PCM, and small JSON control objects. Outbound controls carry an
// "action" ({"action":"start_speech"}); inbound controls carry a "status"
// ({"status":"dialogue_end"}). Connection lifecycle is reported as a stream of
// [Event] values on [Conn.Events].
//
// The WebSocket implementation lives in transport/ws; a test double in
// transport/mock.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Outbound control actions.
const (
	ActionStartSpeech  = "start_speech"
	ActionStopSpeech   = "stop_speech"
	ActionReadyForNext = "ready_for_next"
)

// Inbound control statuses.
const (
	StatusDialogueEnd = "dialogue_end"
)

// ErrClosed is returned by [Conn.Send] after the connection has closed.
var ErrClosed = errors.New("transport: connection closed")

// Control is a JSON control message. Fields other than action and status are
// kept verbatim in Extra so they can be logged.
type Control struct {
	Action string
	Status string
	Extra  map[string]json.RawMessage
}

// MarshalJSON implements [json.Marshaler]. Empty Action and Status are
// omitted.
func (c Control) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.Action != "" {
		m["action"] = c.Action
	}
	if c.Status != "" {
		m["status"] = c.Status
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements [json.Unmarshaler]. Non-string action or status
// values are rejected.
func (c *Control) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Control{}
	for key, dst := range map[string]*string{"action": &c.Action, "status": &c.Status} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("transport: control field %q: %w", key, err)
		}
		delete(raw, key)
	}
	if len(raw) > 0 {
		c.Extra = maps.Clone(raw)
	}
	return nil
}

// String returns the control's JSON form, for logging.
func (c Control) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<invalid control: %v>", err)
	}
	return string(b)
}

// Message is one unit on the wire: either an audio chunk or a control.
// Exactly one of Audio and Control is meaningful; Control nil means audio.
type Message struct {
	Audio   []byte
	Control *Control
}

// AudioMessage returns a binary message carrying pcm.
func AudioMessage(pcm []byte) Message {
	return Message{Audio: pcm}
}

// ActionMessage returns an outbound control message with the given action.
func ActionMessage(action string) Message {
	return Message{Control: &Control{Action: action}}
}

// StatusMessage returns a control message with the given status.
func StatusMessage(status string) Message {
	return Message{Control: &Control{Status: status}}
}

// IsAudio reports whether m is a binary audio message.
func (m Message) IsAudio() bool { return m.Control == nil }

// EventKind classifies a connection [Event].
type EventKind int

const (
	// EventOpen is delivered once, when the connection is established.
	EventOpen EventKind = iota

	// EventMessage carries one inbound [Message].
	EventMessage

	// EventClose is delivered once, as the last event. Clean distinguishes a
	// normal shutdown from an abnormal one.
	EventClose

	// EventError reports a failure. An EventClose with Clean=false follows.
	EventError
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a connection lifecycle notification or an inbound message.
type Event struct {
	Kind    EventKind
	Message Message // EventMessage only

	// EventClose only.
	Clean  bool
	Code   int
	Reason string

	Err error // EventError, and EventClose when unclean
}

// Conn is a duplex transport connection.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// Events delivers lifecycle events and inbound messages in arrival order.
	// The channel is closed after the EventClose event.
	Events() <-chan Event

	// Send writes one message. Messages from one goroutine are delivered in
	// call order. Returns an error wrapping [ErrClosed] once the connection
	// is gone.
	Send(ctx context.Context, msg Message) error

	// Ready reports whether Send can currently succeed.
	Ready() bool

	// Close shuts the connection down cleanly. It is safe to call more than
	// once.
	Close() error
}
