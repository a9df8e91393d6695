package wav_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/wav"
)

// sine returns n samples of a 440 Hz tone at the given rate as s16le bytes.
func sine(n, rate int) []byte {
	out := make([]byte, n*2)
	for i := range n {
		v := 16383 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func TestEncode_HeaderFields(t *testing.T) {
	t.Parallel()

	pcm := sine(2400, audio.PlaybackSampleRate)
	data := wav.Encode(pcm, audio.PlaybackFormat)

	if len(data) != wav.HeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(data), wav.HeaderSize+len(pcm))
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", le.Uint32(data[4:8]), uint32(36 + len(pcm))},
		{"fmt size", le.Uint32(data[16:20]), 16},
		{"format tag", uint32(le.Uint16(data[20:22])), 1},
		{"channels", uint32(le.Uint16(data[22:24])), 1},
		{"sample rate", le.Uint32(data[24:28]), 24000},
		{"byte rate", le.Uint32(data[28:32]), 48000},
		{"block align", uint32(le.Uint16(data[32:34])), 2},
		{"bits per sample", uint32(le.Uint16(data[34:36])), 16},
		{"data size", le.Uint32(data[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	for off, tag := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
		if got := string(data[off : off+4]); got != tag {
			t.Errorf("tag at %d = %q, want %q", off, got, tag)
		}
	}
}

func TestEncode_DoesNotAliasInput(t *testing.T) {
	t.Parallel()
	pcm := []byte{1, 2, 3, 4}
	data := wav.Encode(pcm, audio.PlaybackFormat)
	pcm[0] = 99
	if data[wav.HeaderSize] != 1 {
		t.Error("Encode must copy the PCM payload")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2, 3, 160, 4801, 48000} {
		pcm := make([]byte, n)
		for i := range pcm {
			pcm[i] = byte(i * 7)
		}
		for _, f := range []audio.Format{audio.PlaybackFormat, audio.CaptureFormat} {
			data := wav.Encode(pcm, f)
			if len(data) != wav.HeaderSize+n {
				t.Fatalf("n=%d: encoded len = %d, want %d", n, len(data), wav.HeaderSize+n)
			}
			got, gotFmt, err := wav.Decode(data)
			if err != nil {
				t.Fatalf("n=%d: Decode: %v", n, err)
			}
			if !bytes.Equal(got, pcm) {
				t.Errorf("n=%d: payload mismatch", n)
			}
			if gotFmt != f {
				t.Errorf("n=%d: format = %s, want %s", n, gotFmt, f)
			}
			buf := audio.Buffer{PCM: got, Format: gotFmt}
			if buf.Samples() != n/2 {
				t.Errorf("n=%d: samples = %d, want %d", n, buf.Samples(), n/2)
			}
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	valid := wav.Encode(sine(100, 16000), audio.CaptureFormat)

	corrupt := func(off int, b ...byte) []byte {
		d := bytes.Clone(valid)
		copy(d[off:], b)
		return d
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", valid[:20], wav.ErrInvalid},
		{"bad riff", corrupt(0, 'R', 'I', 'F', 'X'), wav.ErrInvalid},
		{"bad wave", corrupt(8, 'W', 'A', 'V', 'X'), wav.ErrInvalid},
		{"bad fmt", corrupt(12, 'f', 'm', 'x', ' '), wav.ErrInvalid},
		{"bad data tag", corrupt(36, 'd', 'a', 't', 'x'), wav.ErrInvalid},
		{"float format", corrupt(20, 3, 0), wav.ErrInvalid},
		{"8 bit", corrupt(34, 8, 0), wav.ErrInvalid},
		{"zero rate", corrupt(24, 0, 0, 0, 0), wav.ErrInvalid},
		{"truncated payload", valid[:len(valid)-10], wav.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := wav.Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	data := wav.Encode(make([]byte, 24000), audio.PlaybackFormat)
	d, err := wav.Duration(data)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", d)
	}
}
