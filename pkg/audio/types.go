package audio

import "time"

const (
	// PlaybackSampleRate is the rate of synthesized speech delivered by the
	// dialogue server.
	PlaybackSampleRate = 24000

	// CaptureSampleRate is the rate of microphone audio sent to the dialogue
	// server.
	CaptureSampleRate = 16000

	// BitsPerSample is fixed: every PCM buffer in mirchi is signed 16-bit
	// little-endian.
	BitsPerSample = 16

	bytesPerSample = BitsPerSample / 8
)

// Format describes the sample rate and channel count of an audio stream.
// Samples are always s16le.
type Format struct {
	SampleRate int
	Channels   int
}

// PlaybackFormat is the format of inbound speech chunks.
var PlaybackFormat = Format{SampleRate: PlaybackSampleRate, Channels: 1}

// CaptureFormat is the format of outbound microphone chunks.
var CaptureFormat = Format{SampleRate: CaptureSampleRate, Channels: 1}

// BlockAlign returns the size in bytes of one sample frame (all channels).
func (f Format) BlockAlign() int {
	return f.Channels * bytesPerSample
}

// ByteRate returns the number of PCM bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playback duration of n PCM bytes in this format.
// It returns 0 for an unset format.
func (f Format) Duration(n int) time.Duration {
	br := f.ByteRate()
	if br <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(br))
}

// FrameTime returns the time at which sample frame n begins, rounded down to
// the nanosecond. [Format.FrameAt] maps it back to n exactly.
func (f Format) FrameTime(n int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(f.SampleRate))
}

// FrameAt returns the first sample frame starting at or after d.
func (f Format) FrameAt(d time.Duration) int64 {
	if f.SampleRate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*int64(f.SampleRate) + int64(time.Second) - 1) / int64(time.Second)
}

// Bytes returns the number of PCM bytes covering d, rounded down to a whole
// sample frame.
func (f Format) Bytes(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.BlockAlign()
}

// String returns e.g. "24000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// AudioFrame is a slice of PCM captured from (or destined for) a device.
type AudioFrame struct {
	// PCM audio data, s16le interleaved.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a sound card, 16000 for capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's format.
func (fr AudioFrame) Format() Format {
	return Format{SampleRate: fr.SampleRate, Channels: fr.Channels}
}

// Buffer is a decoded, playable PCM buffer produced by a [Decoder].
type Buffer struct {
	PCM    []byte
	Format Format
}

// Samples returns the number of sample frames in the buffer.
func (b Buffer) Samples() int {
	ba := b.Format.BlockAlign()
	if ba <= 0 {
		return 0
	}
	return len(b.PCM) / ba
}

// Duration returns how long the buffer plays for.
func (b Buffer) Duration() time.Duration {
	return b.Format.Duration(len(b.PCM))
}
