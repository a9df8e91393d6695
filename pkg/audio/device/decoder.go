package device

import (
	"bytes"
	"context"
	"fmt"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/wav"
)

// Compile-time interface assertion.
var _ audio.Decoder = (*WAVDecoder)(nil)

// WAVDecoder is an [audio.Decoder] for PCM WAV containers.
//
// When Target is set, decoded audio is converted to it; otherwise the
// container's own format is kept.
type WAVDecoder struct {
	Target audio.Format
}

// Decode implements [audio.Decoder]. The returned buffer does not alias data.
func (d WAVDecoder) Decode(ctx context.Context, data []byte) (audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	pcm, f, err := wav.Decode(data)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("device: decode: %w", err)
	}
	// Drop a trailing partial sample frame.
	pcm = pcm[:len(pcm)-len(pcm)%f.BlockAlign()]

	if d.Target.SampleRate > 0 && d.Target.Channels > 0 && d.Target != f {
		return audio.Buffer{PCM: audio.ConvertPCM(pcm, f, d.Target), Format: d.Target}, nil
	}
	return audio.Buffer{PCM: bytes.Clone(pcm), Format: f}, nil
}
