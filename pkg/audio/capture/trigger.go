package capture

import (
	"slices"
	"sync"
)

// Gesture sources.
const (
	SourceKeyboard = "keyboard"
	SourcePointer  = "pointer"
)

// Trigger merges several push-to-talk gesture sources into one down/up pair.
// The first source to press fires down; the last one to release fires up.
// A press from a source that is already held (key auto-repeat) is ignored,
// as is a release from a source that is not held.
type Trigger struct {
	mu     sync.Mutex
	held   map[string]struct{}
	onDown func() error
	onUp   func() error
}

// NewTrigger returns a Trigger that calls onDown and onUp on gesture edges.
// The callbacks run with the trigger's lock held, so edges are delivered in
// order; they must not call back into the Trigger.
func NewTrigger(onDown, onUp func() error) *Trigger {
	return &Trigger{
		held:   make(map[string]struct{}),
		onDown: onDown,
		onUp:   onUp,
	}
}

// Press records that source went down. It returns the error of onDown when
// this press fired it.
func (t *Trigger) Press(source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[source]; ok {
		return nil
	}
	t.held[source] = struct{}{}
	if len(t.held) == 1 && t.onDown != nil {
		return t.onDown()
	}
	return nil
}

// Release records that source went up. It returns the error of onUp when this
// release fired it.
func (t *Trigger) Release(source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[source]; !ok {
		return nil
	}
	delete(t.held, source)
	if len(t.held) == 0 && t.onUp != nil {
		return t.onUp()
	}
	return nil
}

// Reset forgets every held source without firing onUp.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.held)
}

// Held returns the sources currently held, sorted.
func (t *Trigger) Held() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.held))
	for s := range t.held {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
