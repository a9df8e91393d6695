package playback

import "context"

// SetOnDialogueEnd registers fn as the dialogue-end callback. There is one
// slot: a later registration replaces the earlier one. A nil fn disables the
// callback while signals keep being consumed.
func (s *Scheduler) SetOnDialogueEnd(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDialogueEnd = fn
}

// SignalDialogueEnd records that the remote party finished sending the audio
// of the current turn.
//
// If nothing is queued, decoding, or playing, the callback fires before
// SignalDialogueEnd returns. Otherwise it fires from the drain path the
// moment the last voice finishes. Either way it fires exactly once per call;
// signals that arrive while a turn is still playing out are all delivered
// together when it drains. [Scheduler.Stop] discards pending signals.
func (s *Scheduler) SignalDialogueEnd() {
	s.mu.Lock()
	s.pendingEnds++
	fire := s.takeDialogueEndLocked()
	s.mu.Unlock()

	fire()
}

// takeDialogueEndLocked consumes the pending signals if the scheduler has
// drained and returns a function that runs the callback once per consumed
// signal. The returned function must be called after s.mu is released; it is
// a no-op when nothing was consumed.
func (s *Scheduler) takeDialogueEndLocked() func() {
	if s.pendingEnds == 0 || !s.drainedLocked() {
		return func() {}
	}
	n := s.pendingEnds
	s.pendingEnds = 0
	cb := s.onDialogueEnd

	return func() {
		for range n {
			s.obs.DialogueEnded(context.Background())
			if cb != nil {
				cb()
			}
		}
	}
}
