// Package wav wraps raw s16le PCM in a minimal RIFF/WAVE container and
// unwraps it again.
//
// The container is the canonical 44-byte linear-PCM layout: a RIFF chunk
// holding one "fmt " sub-chunk of 16 bytes and one "data" sub-chunk. It is
// what standard decoders expect, so a chunk of raw PCM received from the
// network becomes decodable by prefixing [Encode]'s header.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

// formatPCM is the WAVE format tag for integer linear PCM.
const formatPCM = 1

var (
	// ErrInvalid is returned when data is not a canonical PCM WAV container.
	ErrInvalid = errors.New("wav: invalid container")

	// ErrTruncated is returned when the data chunk is shorter than its
	// declared size.
	ErrTruncated = errors.New("wav: truncated data chunk")
)

// Header is the on-disk layout of the 44-byte header, little-endian.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // number of PCM bytes
}

// NewHeader returns the header describing n bytes of s16le PCM in format f.
func NewHeader(n int, f audio.Format) Header {
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + n),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.Channels * audio.BitsPerSample / 8),
		BlockAlign:    uint16(f.Channels * audio.BitsPerSample / 8),
		BitsPerSample: audio.BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(n),
	}
}

// StreamFormat returns the stream format the header describes.
func (h Header) StreamFormat() audio.Format {
	return audio.Format{SampleRate: int(h.SampleRate), Channels: int(h.NumChannels)}
}

// put writes h into dst, which must hold at least HeaderSize bytes.
func (h Header) put(dst []byte) {
	le := binary.LittleEndian
	copy(dst[0:4], h.ChunkID[:])
	le.PutUint32(dst[4:8], h.ChunkSize)
	copy(dst[8:12], h.Format[:])
	copy(dst[12:16], h.Subchunk1ID[:])
	le.PutUint32(dst[16:20], h.Subchunk1Size)
	le.PutUint16(dst[20:22], h.AudioFormat)
	le.PutUint16(dst[22:24], h.NumChannels)
	le.PutUint32(dst[24:28], h.SampleRate)
	le.PutUint32(dst[28:32], h.ByteRate)
	le.PutUint16(dst[32:34], h.BlockAlign)
	le.PutUint16(dst[34:36], h.BitsPerSample)
	copy(dst[36:40], h.Subchunk2ID[:])
	le.PutUint32(dst[40:44], h.Subchunk2Size)
}

// Encode returns a new buffer holding the WAV header for pcm followed by a
// copy of pcm. It never fails: any length is valid, and keeping the sample
// count whole is the caller's job.
func Encode(pcm []byte, f audio.Format) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	NewHeader(len(pcm), f).put(out)
	copy(out[HeaderSize:], pcm)
	return out
}

// ReadHeader parses and validates the header at the start of data.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: need %d header bytes, got %d", ErrInvalid, HeaderSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return h, fmt.Errorf("%w: missing RIFF header", ErrInvalid)
	case string(h.Format[:]) != "WAVE":
		return h, fmt.Errorf("%w: missing WAVE format", ErrInvalid)
	case string(h.Subchunk1ID[:]) != "fmt ":
		return h, fmt.Errorf("%w: missing fmt chunk", ErrInvalid)
	case string(h.Subchunk2ID[:]) != "data":
		return h, fmt.Errorf("%w: missing data chunk", ErrInvalid)
	case h.AudioFormat != formatPCM:
		return h, fmt.Errorf("%w: unsupported audio format %d", ErrInvalid, h.AudioFormat)
	case h.BitsPerSample != audio.BitsPerSample:
		return h, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalid, h.BitsPerSample)
	case h.NumChannels == 0 || h.SampleRate == 0:
		return h, fmt.Errorf("%w: empty format (%d channels, %d Hz)", ErrInvalid, h.NumChannels, h.SampleRate)
	}
	return h, nil
}

// Decode validates the container and returns its PCM payload (a sub-slice of
// data, not a copy) and format. A trailing partial sample is returned as-is;
// players ignore it.
func Decode(data []byte) ([]byte, audio.Format, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, audio.Format{}, err
	}
	n := int(h.Subchunk2Size)
	if len(data)-HeaderSize < n {
		return nil, audio.Format{}, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncated, n, len(data)-HeaderSize)
	}
	return data[HeaderSize : HeaderSize+n], h.StreamFormat(), nil
}

// Duration returns the playback duration of the container's data chunk.
func Duration(data []byte) (time.Duration, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return 0, err
	}
	return h.StreamFormat().Duration(int(h.Subchunk2Size)), nil
}
