package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, -200, 300})))
	equalSamples(t, got, []int16{100, 100, -200, -200, 300, 300})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	equalSamples(t, got, []int16{150, -150, 32767})
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		src, dst int
		wantLen  int
	}{
		{name: "same rate", in: []int16{1, 2, 3}, src: 16000, dst: 16000, wantLen: 3},
		{name: "upsample 2x", in: []int16{0, 100, 200, 300}, src: 8000, dst: 16000, wantLen: 8},
		{name: "downsample 3x", in: make([]int16, 48), src: 48000, dst: 16000, wantLen: 16},
		{name: "zero src rate", in: []int16{1, 2}, src: 0, dst: 16000, wantLen: 2},
		{name: "zero dst rate", in: []int16{1, 2}, src: 16000, dst: 0, wantLen: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.ResampleMono16(samplesToBytes(tt.in), tt.src, tt.dst)
			if got := len(out) / 2; got != tt.wantLen {
				t.Errorf("samples = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{0, 100}), 8000, 16000))
	equalSamples(t, got, []int16{0, 50, 100, 100})
}

func TestResampleStereo16_KeepsChannelsApart(t *testing.T) {
	t.Parallel()
	// L ramps up, R stays constant.
	in := samplesToBytes([]int16{0, 500, 100, 500})
	got := bytesToSamples(audio.ResampleStereo16(in, 8000, 16000))
	equalSamples(t, got, []int16{0, 500, 50, 500, 100, 500, 100, 500})
}

func TestConvertPCM_StereoDeviceToCaptureFormat(t *testing.T) {
	t.Parallel()
	// 10 ms of 48 kHz stereo silence → 10 ms of 16 kHz mono.
	in := make([]byte, 480*4)
	out := audio.ConvertPCM(in, audio.Format{SampleRate: 48000, Channels: 2}, audio.CaptureFormat)
	if len(out) != 160*2 {
		t.Fatalf("len = %d, want %d", len(out), 160*2)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.CaptureFormat}
	data := samplesToBytes([]int16{1, 2, 3})
	frame := audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: time.Second}
	got := conv.Convert(frame)
	if &got.Data[0] != &data[0] {
		t.Error("matching format should return the same backing array")
	}
	if got.Timestamp != time.Second {
		t.Errorf("Timestamp = %v, want 1s", got.Timestamp)
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.CaptureFormat}
	got := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 2})
	if got.Data != nil {
		t.Errorf("expected nil data for odd byte count, got %d bytes", len(got.Data))
	}
	if got.SampleRate != audio.CaptureSampleRate || got.Channels != 1 {
		t.Errorf("format = %s, want target format", got.Format())
	}
}

func TestFormatConverter_Converts(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.CaptureFormat}
	in := audio.AudioFrame{Data: make([]byte, 960*4), SampleRate: 48000, Channels: 2}
	got := conv.Convert(in)
	if got.Format() != audio.CaptureFormat {
		t.Errorf("format = %s, want %s", got.Format(), audio.CaptureFormat)
	}
	if len(got.Data) != 320*2 {
		t.Errorf("len = %d, want %d", len(got.Data), 320*2)
	}
}

func TestFormat_DurationAndBytes(t *testing.T) {
	t.Parallel()
	f := audio.PlaybackFormat
	if got := f.ByteRate(); got != 48000 {
		t.Errorf("ByteRate = %d, want 48000", got)
	}
	if got := f.Duration(24000); got != 500*time.Millisecond {
		t.Errorf("Duration(24000) = %v, want 500ms", got)
	}
	if got := audio.CaptureFormat.Bytes(100 * time.Millisecond); got != 3200 {
		t.Errorf("Bytes(100ms) = %d, want 3200", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestBuffer_Duration(t *testing.T) {
	t.Parallel()
	b := audio.Buffer{PCM: make([]byte, 14400), Format: audio.PlaybackFormat}
	if got := b.Duration(); got != 300*time.Millisecond {
		t.Errorf("Duration = %v, want 300ms", got)
	}
	if got := b.Samples(); got != 7200 {
		t.Errorf("Samples = %d, want 7200", got)
	}
}

func TestFormat_FrameTimeRoundTrip(t *testing.T) {
	t.Parallel()
	f := audio.PlaybackFormat

	for _, n := range []int64{0, 1, 1001, 5005, 24000, 1<<31 + 7} {
		if got := f.FrameAt(f.FrameTime(n)); got != n {
			t.Errorf("FrameAt(FrameTime(%d)) = %d", n, got)
		}
	}
	if got := f.FrameAt(time.Nanosecond); got != 1 {
		t.Errorf("FrameAt(1ns) = %d, want 1", got)
	}
	if got := (audio.Format{}).FrameTime(10); got != 0 {
		t.Errorf("zero format FrameTime = %v, want 0", got)
	}
}
