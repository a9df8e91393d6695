// Package mock provides in-memory implementations of the [audio.Decoder],
// [audio.Output], and [audio.Microphone] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on counts and arguments, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	out := &mock.Output{}
//	sched := playback.New(&mock.Decoder{}, out, audio.PlaybackFormat)
//	sched.Enqueue(pcm)
//	// wait until len(out.Starts()) == 1, then
//	out.End(0) // simulate natural end of playback
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/wav"
)

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock [audio.Decoder]. By default it unwraps the WAV container
// with [wav.Decode]. Set Func to inject latency or failures.
type Decoder struct {
	// Func replaces the default decode when non-nil.
	Func func(ctx context.Context, data []byte) (audio.Buffer, error)

	mu    sync.Mutex
	calls int
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(ctx context.Context, data []byte) (audio.Buffer, error) {
	d.mu.Lock()
	d.calls++
	fn := d.Func
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	pcm, f, err := wav.Decode(data)
	if err != nil {
		return audio.Buffer{}, err
	}
	return audio.Buffer{PCM: pcm, Format: f}, nil
}

// Calls returns how many times Decode was invoked.
func (d *Decoder) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// StartCall records one [Output.Start] invocation.
type StartCall struct {
	Buffer audio.Buffer
	At     time.Duration
	Voice  *Voice
}

// Voice is the mock [audio.Voice] returned by [Output.Start].
type Voice struct {
	mu      sync.Mutex
	stopped bool
	ended   bool
	onEnded func()
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// end runs the completion handler once, unless the voice was stopped.
func (v *Voice) end() {
	v.mu.Lock()
	if v.stopped || v.ended {
		v.mu.Unlock()
		return
	}
	v.ended = true
	cb := v.onEnded
	v.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Output is a mock [audio.Output] with a manually driven clock. Voices never
// end on their own; call [Output.End] or [Output.EndAll].
type Output struct {
	// StartErr, when set, is returned by every Start call.
	StartErr error

	mu     sync.Mutex
	now    time.Duration
	starts []StartCall
}

// SetNow moves the device clock. Tests are responsible for keeping it
// monotonic.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Start implements [audio.Output].
func (o *Output) Start(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.StartErr != nil {
		return nil, o.StartErr
	}
	v := &Voice{onEnded: onEnded}
	o.starts = append(o.starts, StartCall{Buffer: buf, At: at, Voice: v})
	return v, nil
}

// Starts returns a copy of all recorded Start calls in order.
func (o *Output) Starts() []StartCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]StartCall, len(o.starts))
	copy(out, o.starts)
	return out
}

// End simulates the natural end of the i-th started voice. It panics if i is
// out of range.
func (o *Output) End(i int) {
	o.mu.Lock()
	v := o.starts[i].Voice
	o.mu.Unlock()
	v.end()
}

// EndAll ends every started voice in start order.
func (o *Output) EndAll() {
	for i := range o.Starts() {
		o.End(i)
	}
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu      sync.Mutex
	opens   []audio.CaptureOptions
	streams []*MicStream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, opts audio.CaptureOptions) (audio.MicStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = append(m.opens, opts)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &MicStream{frames: make(chan audio.AudioFrame, 64), done: make(chan struct{})}
	m.streams = append(m.streams, s)
	return s, nil
}

// Opens returns the options of every Open call.
func (m *Microphone) Opens() []audio.CaptureOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audio.CaptureOptions, len(m.opens))
	copy(out, m.opens)
	return out
}

// Streams returns the streams handed out so far.
func (m *Microphone) Streams() []*MicStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MicStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// ErrStreamClosed is returned by [MicStream.Push] after Close.
var ErrStreamClosed = errors.New("mock: mic stream closed")

// MicStream is a mock [audio.MicStream]. Feed it with Push.
type MicStream struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	done   chan struct{}
	closes int
}

// Push delivers a frame to the consumer.
func (s *MicStream) Push(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return ErrStreamClosed
	}
	s.frames <- frame
	return nil
}

// Frames implements [audio.MicStream].
func (s *MicStream) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Close implements [audio.MicStream].
func (s *MicStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.frames)
		close(s.done)
	}
	return nil
}

// Closed reports whether Close was called at least once.
func (s *MicStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

// Done is closed when the stream is closed.
func (s *MicStream) Done() <-chan struct{} {
	return s.done
}
