// Package device provides the concrete audio platform used by the mirchi
// binary: a clocked software output that renders scheduled voices to an
// [io.Writer], a WAV decoder, and a microphone that reads raw PCM from a file
// or FIFO.
//
// Pipe the Timeline output into a player and feed the microphone from a
// recorder, e.g.
//
//	mirchi -config mirchi.yaml | aplay -f S16_LE -r 24000 -c 1
//	arecord -f S16_LE -r 16000 -c 1 > /tmp/mirchi.mic
package device

import (
	"container/heap"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Timeline)(nil)

// DefaultFrameDuration is the render quantum of a [Timeline].
const DefaultFrameDuration = 20 * time.Millisecond

// TimelineOption configures a [Timeline] during construction.
type TimelineOption func(*Timeline)

// WithFrameDuration sets the render quantum. Values below 1ms are ignored.
func WithFrameDuration(d time.Duration) TimelineOption {
	return func(t *Timeline) {
		if d >= time.Millisecond {
			t.frame = d
		}
	}
}

// WithFilter sets the initial band-pass configuration. An invalid spec leaves
// the filter disabled.
func WithFilter(spec FilterSpec) TimelineOption {
	return func(t *Timeline) {
		t.filterSpec = spec
	}
}

// WithTimelineLogger sets the logger.
func WithTimelineLogger(l *slog.Logger) TimelineOption {
	return func(t *Timeline) {
		if l != nil {
			t.log = l
		}
	}
}

// Timeline is an [audio.Output] whose clock is the amount of audio rendered
// so far. Every call to [Timeline.RenderFrame] mixes the voices that overlap
// the next frame, runs the optional band-pass filter, writes s16le to the
// sink, and advances the clock by one frame. [Timeline.Run] paces rendering in
// real time.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format audio.Format
	frame  time.Duration
	w      io.Writer
	log    *slog.Logger

	renderMu sync.Mutex // serializes RenderFrame so out is not reused mid-write

	mu         sync.Mutex
	rendered   int64     // sample frames written so far
	pending    voiceHeap // voices that have not reached their start frame
	playing    []*voice
	seq        uint64
	filterSpec FilterSpec
	filter     *bandPass
	mix        []int32
	out        []byte
}

// NewTimeline creates a Timeline rendering format to w.
func NewTimeline(w io.Writer, format audio.Format, opts ...TimelineOption) *Timeline {
	t := &Timeline{
		format: format,
		frame:  DefaultFrameDuration,
		w:      w,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	t.applyFilterLocked(t.filterSpec)
	return t
}

// Format returns the output format.
func (t *Timeline) Format() audio.Format { return t.format }

// FrameDuration returns the render quantum.
func (t *Timeline) FrameDuration() time.Duration { return t.frame }

// Now implements [audio.Output].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.FrameTime(t.rendered)
}

// Start implements [audio.Output]. Buffers in another format are converted to
// the timeline format first.
func (t *Timeline) Start(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	if buf.Format.SampleRate <= 0 || buf.Format.Channels <= 0 {
		return nil, fmt.Errorf("device: start voice: invalid buffer format %s", buf.Format)
	}
	pcm := audio.ConvertPCM(buf.PCM, buf.Format, t.format)
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Round up: a start that falls between two frames must not overlap the
	// voice ending there.
	start := t.format.FrameAt(at)
	if start < t.rendered {
		start = t.rendered
	}
	t.seq++
	v := &voice{tl: t, samples: samples, start: start, seq: t.seq, onEnded: onEnded}
	heap.Push(&t.pending, v)
	return v, nil
}

// Active returns the number of voices that are scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	for _, v := range t.playing {
		if !v.stopped {
			n++
		}
	}
	return n
}

// SetFilter replaces the band-pass configuration. Filter state restarts from
// silence.
func (t *Timeline) SetFilter(spec FilterSpec) error {
	if err := spec.Validate(t.format.SampleRate); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyFilterLocked(spec)
	return nil
}

func (t *Timeline) applyFilterLocked(spec FilterSpec) {
	t.filterSpec = spec
	t.filter = nil
	if !spec.Enabled {
		return
	}
	if err := spec.Validate(t.format.SampleRate); err != nil {
		t.log.Warn("device: band-pass filter disabled", "err", err)
		return
	}
	t.filter = newBandPass(spec, t.format.SampleRate, t.format.Channels)
}

// RenderFrame renders one frame to the sink and then runs the completion
// handlers of voices that finished within it.
func (t *Timeline) RenderFrame() error {
	t.renderMu.Lock()
	defer t.renderMu.Unlock()

	t.mu.Lock()
	out, ended := t.renderLocked()
	t.mu.Unlock()

	_, err := t.w.Write(out)

	for _, fn := range ended {
		fn()
	}
	if err != nil {
		return fmt.Errorf("device: write frame: %w", err)
	}
	return nil
}

// renderLocked mixes the next frame and returns the encoded bytes plus the
// handlers of voices that ended in it.
func (t *Timeline) renderLocked() ([]byte, []func()) {
	frames := t.durationToFrames(t.frame)
	n := int(frames) * t.format.Channels
	if cap(t.mix) < n {
		t.mix = make([]int32, n)
		t.out = make([]byte, n*2)
	}
	mix := t.mix[:n]
	clear(mix)
	end := t.rendered + frames

	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		if !v.stopped {
			t.playing = append(t.playing, v)
		}
	}

	var ended []func()
	keep := t.playing[:0]
	for _, v := range t.playing {
		if v.stopped {
			continue
		}
		off := 0
		if v.start > t.rendered {
			off = int(v.start-t.rendered) * t.format.Channels
		}
		c := min(n-off, len(v.samples)-v.pos)
		for i := range c {
			mix[off+i] += int32(v.samples[v.pos+i])
		}
		v.pos += c
		if v.pos >= len(v.samples) {
			v.stopped = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		keep = append(keep, v)
	}
	clear(t.playing[len(keep):])
	t.playing = keep

	if t.filter != nil {
		t.filter.process(mix, t.format.Channels)
	}

	out := t.out[:n*2]
	for i, s := range mix {
		s = max(math.MinInt16, min(math.MaxInt16, s))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	t.rendered = end
	return out, ended
}

// Run renders one frame per frame duration until ctx is cancelled or the sink
// fails. It returns nil on cancellation.
func (t *Timeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.RenderFrame(); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					t.log.Info("device: output closed by reader")
				}
				return err
			}
		}
	}
}

func (t *Timeline) durationToFrames(d time.Duration) int64 {
	return int64(d) * int64(t.format.SampleRate) / int64(time.Second)
}
