// Package audio defines the types and device interfaces shared by the mirchi
// playback and capture pipelines.
//
// The device abstractions mirror what a browser audio stack offers:
//
//   - [Decoder] turns an encoded container into a playable [Buffer].
//   - [Output] owns a device clock and plays buffers at absolute times on it,
//     returning a [Voice] handle per scheduled buffer.
//   - [Microphone] opens a [MicStream] of captured [AudioFrame] values.
//
// Concrete implementations live in audio/device; test doubles in audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned (wrapped) by [Microphone.Open] when the
// user or the operating system refused access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Decoder decodes a complete audio container into PCM.
//
// Decode may be called concurrently for different inputs. It must respect ctx
// cancellation.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (Buffer, error)
}

// Voice is the handle of one buffer scheduled on an [Output].
type Voice interface {
	// Stop halts the voice immediately. The onEnded handler passed to
	// [Output.Start] is NOT invoked for a stopped voice. Stop is idempotent.
	Stop()
}

// Output is an audio output device with its own monotonic clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the device clock. It never
	// decreases.
	Now() time.Duration

	// Start schedules buf to begin playing at device time at. If at is in the
	// past the buffer starts immediately. onEnded (may be nil) is invoked once
	// when the buffer has finished playing naturally. It is never invoked
	// synchronously from within Start and never while the output holds
	// internal locks.
	Start(buf Buffer, at time.Duration, onEnded func()) (Voice, error)
}

// CaptureOptions configures a microphone stream.
type CaptureOptions struct {
	// Format requested from the device. Devices that cannot honour it return
	// frames in their native format; callers convert.
	Format Format

	// EchoCancellation asks the device to cancel speaker echo if supported.
	EchoCancellation bool
}

// MicStream is a live microphone stream.
type MicStream interface {
	// Frames delivers captured audio. The channel is closed when the stream
	// ends or is closed.
	Frames() <-chan AudioFrame

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	// Open acquires the capture device. Permission problems are reported as
	// errors wrapping [ErrPermissionDenied].
	Open(ctx context.Context, opts CaptureOptions) (MicStream, error)
}
