package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Microphone = (*PipeMicrophone)(nil)

// PipeMicrophone is an [audio.Microphone] that reads raw s16le PCM from a
// file, typically a FIFO fed by a recorder such as arecord or sox. Each Open
// opens the path anew, so the recorder only needs to run while capturing.
type PipeMicrophone struct {
	// Path of the PCM source.
	Path string

	// Format of the PCM in the file. Frames are delivered in this format;
	// the consumer converts.
	Format audio.Format

	// FrameDuration is the size of each delivered frame. Defaults to 20ms.
	FrameDuration time.Duration

	// Pace delivers frames in real time. Needed for regular files, which
	// would otherwise be read at disk speed; FIFOs are paced by the writer.
	Pace bool

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Open implements [audio.Microphone].
func (m *PipeMicrophone) Open(ctx context.Context, opts audio.CaptureOptions) (audio.MicStream, error) {
	if m.Path == "" {
		return nil, errors.New("device: open microphone: no input path configured")
	}
	if m.Format.SampleRate <= 0 || m.Format.Channels <= 0 {
		return nil, fmt.Errorf("device: open microphone: invalid format %s", m.Format)
	}
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}

	f, err := os.Open(m.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("device: open microphone %s: %w", m.Path, audio.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("device: open microphone %s: %w", m.Path, err)
	}
	if opts.EchoCancellation {
		log.Debug("device: echo cancellation not available on pipe input", "path", m.Path)
	}

	frame := m.FrameDuration
	if frame <= 0 {
		frame = DefaultFrameDuration
	}
	s := &pipeStream{
		f:      f,
		format: m.Format,
		size:   m.Format.Bytes(frame),
		frame:  frame,
		pace:   m.Pace,
		log:    log.With("path", m.Path),
		frames: make(chan audio.AudioFrame, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.read(ctx)
	return s, nil
}

type pipeStream struct {
	f      *os.File
	format audio.Format
	size   int
	frame  time.Duration
	pace   bool
	log    *slog.Logger

	frames chan audio.AudioFrame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *pipeStream) Frames() <-chan audio.AudioFrame { return s.frames }

// Close stops the reader, closes the file, and waits for the reader goroutine
// to exit. Frames still buffered in the channel remain readable.
func (s *pipeStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.f.Close()
		<-s.exited
	})
	return err
}

func (s *pipeStream) read(ctx context.Context) {
	defer close(s.exited)
	defer close(s.frames)

	var ticker *time.Ticker
	if s.pace {
		ticker = time.NewTicker(s.frame)
		defer ticker.Stop()
	}

	var ts time.Duration
	for {
		buf := make([]byte, s.size)
		n, err := io.ReadFull(s.f, buf)
		if n > 0 {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			}
			fr := audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  ts,
			}
			select {
			case s.frames <- fr:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
			ts += s.format.Duration(n)
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					s.log.Warn("device: microphone read failed", "err", err)
				}
			}
			return
		}
	}
}
