package device_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/device"
	"github.com/MrWong99/mirchi/pkg/audio/wav"
)

// ─── WAVDecoder ───────────────────────────────────────────────────────────────

func TestWAVDecoder_Decode(t *testing.T) {
	t.Parallel()

	pcm := constPCM(100*time.Millisecond, 24000, 1234)
	data := wav.Encode(pcm, audio.PlaybackFormat)

	buf, err := device.WAVDecoder{}.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(buf.PCM, pcm) {
		t.Error("payload mismatch")
	}
	if buf.Format != audio.PlaybackFormat {
		t.Errorf("format = %s, want %s", buf.Format, audio.PlaybackFormat)
	}
	data[wav.HeaderSize] ^= 0xFF
	if buf.PCM[0] != pcm[0] {
		t.Error("decoded buffer aliases the container")
	}
}

func TestWAVDecoder_Target(t *testing.T) {
	t.Parallel()

	data := wav.Encode(constPCM(100*time.Millisecond, 24000, 1), audio.PlaybackFormat)
	target := audio.Format{SampleRate: 48000, Channels: 2}
	buf, err := device.WAVDecoder{Target: target}.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Format != target {
		t.Errorf("format = %s, want %s", buf.Format, target)
	}
	if d := buf.Duration(); d < 99*time.Millisecond || d > 101*time.Millisecond {
		t.Errorf("duration = %v, want ~100ms", d)
	}
}

func TestWAVDecoder_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (device.WAVDecoder{}).Decode(context.Background(), []byte("nope")); !errors.Is(err, wav.ErrInvalid) {
		t.Errorf("garbage: err = %v, want ErrInvalid", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := wav.Encode(nil, audio.PlaybackFormat)
	if _, err := (device.WAVDecoder{}).Decode(ctx, data); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

func TestWAVDecoder_DropsPartialSample(t *testing.T) {
	t.Parallel()
	data := wav.Encode([]byte{1, 2, 3}, audio.PlaybackFormat)
	buf, err := device.WAVDecoder{}.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Samples() != 1 || len(buf.PCM) != 2 {
		t.Errorf("got %d bytes, want one whole sample", len(buf.PCM))
	}
}

// ─── PipeMicrophone ───────────────────────────────────────────────────────────

func TestPipeMicrophone_ReadsFrames(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mic.pcm")
	pcm := constPCM(50*time.Millisecond, 16000, 42)
	if err := os.WriteFile(path, pcm, 0o600); err != nil {
		t.Fatal(err)
	}

	mic := &device.PipeMicrophone{Path: path, Format: audio.CaptureFormat, FrameDuration: 20 * time.Millisecond}
	stream, err := mic.Open(context.Background(), audio.CaptureOptions{Format: audio.CaptureFormat, EchoCancellation: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	var got []byte
	var stamps []time.Duration
	for fr := range stream.Frames() {
		if fr.Format() != audio.CaptureFormat {
			t.Errorf("frame format = %s", fr.Format())
		}
		got = append(got, fr.Data...)
		stamps = append(stamps, fr.Timestamp)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("read %d bytes, want %d", len(got), len(pcm))
	}
	want := []time.Duration{0, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(stamps) != len(want) {
		t.Fatalf("frames = %d, want %d", len(stamps), len(want))
	}
	for i := range want {
		if stamps[i] != want[i] {
			t.Errorf("timestamp[%d] = %v, want %v", i, stamps[i], want[i])
		}
	}
}

func TestPipeMicrophone_CloseStopsReader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mic.pcm")
	if err := os.WriteFile(path, constPCM(2*time.Second, 16000, 1), 0o600); err != nil {
		t.Fatal(err)
	}
	mic := &device.PipeMicrophone{Path: path, Format: audio.CaptureFormat, Pace: true}
	stream, err := mic.Open(context.Background(), audio.CaptureOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	<-stream.Frames()

	done := make(chan struct{})
	go func() {
		_ = stream.Close()
		_ = stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	audio.Drain(stream.Frames())
}

func TestPipeMicrophone_OpenErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	if _, err := (&device.PipeMicrophone{Format: audio.CaptureFormat}).Open(ctx, audio.CaptureOptions{}); err == nil {
		t.Error("empty path: expected error")
	}
	if _, err := (&device.PipeMicrophone{Path: filepath.Join(dir, "missing"), Format: audio.CaptureFormat}).Open(ctx, audio.CaptureOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}
	if _, err := (&device.PipeMicrophone{Path: dir}).Open(ctx, audio.CaptureOptions{}); err == nil {
		t.Error("zero format: expected error")
	}
}

func TestPipeMicrophone_PermissionDenied(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	path := filepath.Join(t.TempDir(), "locked.pcm")
	if err := os.WriteFile(path, nil, 0o000); err != nil {
		t.Fatal(err)
	}
	mic := &device.PipeMicrophone{Path: path, Format: audio.CaptureFormat}
	_, err := mic.Open(context.Background(), audio.CaptureOptions{})
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}
