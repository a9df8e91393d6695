// Package playback schedules streamed speech chunks for gapless output and
// detects when a dialogue turn has fully played out.
//
// A [Scheduler] owns a FIFO of raw PCM chunks. Each chunk is wrapped in a WAV
// container, decoded through an [audio.Decoder], and started on an
// [audio.Output] exactly where the previous buffer ends, so chunks arriving at
// irregular network intervals play back without gaps or overlap. Up to
// lookahead decodes run concurrently; results are always scheduled in queue
// order, so decode latency variance never reorders the output.
//
// The dialogue-end half of the package combines the remote "turn complete"
// signal with the scheduler's drain state and fires a single-slot callback
// once both hold. See [Scheduler.SignalDialogueEnd].
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/wav"
)

// DefaultLookahead is the number of chunks decoded ahead of the one waiting
// to be scheduled.
const DefaultLookahead = 4

// State is the scheduler's processing state.
type State int

const (
	// Idle means no chunk is being decoded or waiting to be scheduled.
	// Previously scheduled voices may still be playing.
	Idle State = iota

	// Draining means the scheduler is decoding and scheduling queued chunks.
	Draining
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Observer receives scheduler telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ChunkEnqueued(ctx context.Context, bytes int)
	ChunkDecoded(ctx context.Context, took time.Duration, err error)
	VoiceScheduled(ctx context.Context, lead time.Duration, underrun bool)
	VoiceEnded(ctx context.Context)
	DialogueEnded(ctx context.Context)
}

type nopObserver struct{}

func (nopObserver) ChunkEnqueued(context.Context, int)                  {}
func (nopObserver) ChunkDecoded(context.Context, time.Duration, error)  {}
func (nopObserver) VoiceScheduled(context.Context, time.Duration, bool) {}
func (nopObserver) VoiceEnded(context.Context)                          {}
func (nopObserver) DialogueEnded(context.Context)                       {}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLookahead sets how many chunks may be decoding at once. Values below 1
// are ignored.
func WithLookahead(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.lookahead = n
		}
	}
}

// WithLogger sets the logger used for skipped chunks and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.obs = o
		}
	}
}

// Stats is a point-in-time snapshot of the scheduler.
type Stats struct {
	State    State
	Queued   int           // chunks waiting in the playback queue
	Decoding int           // chunks popped but not yet scheduled or skipped
	Active   int           // scheduled voices that have not finished
	Cursor   time.Duration // start time of the next scheduled buffer
}

// Scheduler is the playback queue and gapless scheduler for one call.
//
// All exported methods are safe for concurrent use. The queue, the active
// voice set, and the cursor are only reachable through those methods.
type Scheduler struct {
	dec       audio.Decoder
	out       audio.Output
	format    audio.Format
	lookahead int
	log       *slog.Logger
	obs       Observer

	mu       sync.Mutex
	state    State
	queue    [][]byte
	decoding int
	active   map[uint64]audio.Voice
	nextID   uint64
	cursor   int64 // next start, in sample frames of format
	gen      uint64             // bumped by Stop; stale goroutines and handlers compare against it
	cancel   context.CancelFunc // cancels in-flight decodes of the current drain run

	// dialogue-end detector state, see dialogue.go
	pendingEnds   int
	onDialogueEnd func()
}

// New creates a Scheduler that decodes chunks of the given PCM format with
// dec and plays them on out.
func New(dec audio.Decoder, out audio.Output, format audio.Format, opts ...Option) *Scheduler {
	s := &Scheduler{
		dec:       dec,
		out:       out,
		format:    format,
		lookahead: DefaultLookahead,
		log:       slog.Default(),
		obs:       nopObserver{},
		active:    make(map[uint64]audio.Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends a raw PCM chunk to the playback queue. If the scheduler is
// idle it starts draining. The scheduler takes ownership of chunk.
func (s *Scheduler) Enqueue(chunk []byte) {
	s.obs.ChunkEnqueued(context.Background(), len(chunk))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, chunk)
	if s.state == Idle {
		s.state = Draining
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.drain(ctx, s.gen)
	}
}

// Stop cancels everything: the queue is cleared, in-flight decodes are
// abandoned, every active voice is halted without running its completion
// handler, the cursor returns to zero, and pending dialogue-end signals are
// dropped. Stop is safe to call at any time, including mid-decode.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	clear(s.queue)
	s.queue = nil
	for id, v := range s.active {
		v.Stop()
		delete(s.active, id)
	}
	s.decoding = 0
	s.cursor = 0
	s.state = Idle
	s.pendingEnds = 0
}

// State returns the current processing state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the device time at which the next buffer would start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.FrameTime(s.cursor)
}

// Stats returns a snapshot of the scheduler.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:    s.state,
		Queued:   len(s.queue),
		Decoding: s.decoding,
		Active:   len(s.active),
		Cursor:   s.format.FrameTime(s.cursor),
	}
}

// decodeResult is the outcome of one asynchronous decode.
type decodeResult struct {
	buf  audio.Buffer
	took time.Duration
	err  error
}

// drain is the Draining state. It keeps up to lookahead decodes in flight and
// schedules their results in queue order. It returns when the queue is empty
// and every decode has been consumed, or when Stop bumps the generation.
func (s *Scheduler) drain(ctx context.Context, gen uint64) {
	var window []<-chan decodeResult

	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		for len(s.queue) > 0 && len(window) < s.lookahead {
			chunk := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.decoding++
			window = append(window, s.decodeAsync(ctx, chunk))
		}
		if len(window) == 0 {
			s.state = Idle
			if s.cancel != nil {
				s.cancel()
				s.cancel = nil
			}
			fire := s.takeDialogueEndLocked()
			s.mu.Unlock()
			fire()
			return
		}
		next := window[0]
		window = window[1:]
		s.mu.Unlock()

		var res decodeResult
		select {
		case res = <-next:
		case <-ctx.Done():
			return
		}

		s.obs.ChunkDecoded(ctx, res.took, res.err)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.decoding--
		if res.err != nil {
			s.log.Warn("playback: skipping undecodable chunk", "err", res.err)
		} else {
			s.scheduleLocked(res.buf, gen)
		}
		s.mu.Unlock()
	}
}

// decodeAsync wraps chunk in a WAV container and decodes it on a new
// goroutine. The returned channel receives exactly one result.
func (s *Scheduler) decodeAsync(ctx context.Context, chunk []byte) <-chan decodeResult {
	ch := make(chan decodeResult, 1)
	container := wav.Encode(chunk, s.format)
	go func() {
		start := time.Now()
		buf, err := s.dec.Decode(ctx, container)
		ch <- decodeResult{buf: buf, took: time.Since(start), err: err}
	}()
	return ch
}

// scheduleLocked starts buf at max(cursor, now) and advances the cursor by
// its length. The cursor counts whole sample frames so odd-sized buffers
// neither drift nor overlap. Must be called with s.mu held.
func (s *Scheduler) scheduleLocked(buf audio.Buffer, gen uint64) {
	now := s.out.Now()
	frame := s.cursor
	underrun := false
	if s.format.FrameTime(frame) < now {
		// A cursor that was already running fell behind the device clock:
		// accept a gap rather than scheduling in the past.
		underrun = s.cursor > 0
		frame = s.format.FrameAt(now)
	}
	start := s.format.FrameTime(frame)

	s.nextID++
	id := s.nextID
	v, err := s.out.Start(buf, start, func() { s.voiceEnded(gen, id) })
	if err != nil {
		s.log.Warn("playback: output rejected buffer, skipping", "err", err, "duration", buf.Duration())
		return
	}
	s.active[id] = v
	s.cursor = frame + s.framesOf(buf)
	s.obs.VoiceScheduled(context.Background(), start-now, underrun)

	if underrun {
		s.log.Debug("playback: underrun, clamped start to device clock", "now", now)
	}
}

// framesOf returns the length of buf in sample frames of the scheduler
// format, rounded up when buf has another sample rate.
func (s *Scheduler) framesOf(buf audio.Buffer) int64 {
	n := int64(buf.Samples())
	if buf.Format.SampleRate == s.format.SampleRate || buf.Format.SampleRate <= 0 {
		return n
	}
	rate, src := int64(s.format.SampleRate), int64(buf.Format.SampleRate)
	return (n*rate + src - 1) / src
}

// voiceEnded is the completion handler of the voice with the given id.
func (s *Scheduler) voiceEnded(gen, id uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	fire := s.takeDialogueEndLocked()
	s.mu.Unlock()

	s.obs.VoiceEnded(context.Background())
	fire()
}

// drainedLocked reports whether nothing is queued, decoding, or playing.
func (s *Scheduler) drainedLocked() bool {
	return len(s.queue) == 0 && s.decoding == 0 && len(s.active) == 0
}
