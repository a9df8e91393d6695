// Package config provides the configuration schema, loader, and hot-reload
// watcher for the mirchi voice client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/device"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults used by [Default].
const (
	DefaultListenAddr      = ":8090"
	DefaultTransportURL    = "ws://localhost:8000/ws"
	DefaultDialTimeout     = 10 * time.Second
	DefaultReadLimit       = 1 << 20
	DefaultOutput          = "-"
	DefaultFrameDuration   = 20 * time.Millisecond
	DefaultDecodeLookahead = 4
	DefaultChunkDuration   = 100 * time.Millisecond
	DefaultMaxRetries      = 10
	DefaultBackoff         = time.Second
	DefaultMaxBackoff      = 30 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Capture   CaptureConfig   `yaml:"capture"`
}

// ServerConfig holds the control surface listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control, health and metrics
	// endpoints (e.g., ":8090"). Empty disables the HTTP listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the listener. When nil, plain HTTP is served.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TransportConfig describes the WebSocket connection to the dialogue server.
type TransportConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string `yaml:"url"`

	// MissionID is sent as the mission_id query parameter when non-empty.
	MissionID string `yaml:"mission_id"`

	// Headers are added to the opening handshake (e.g. Authorization).
	Headers map[string]string `yaml:"headers"`

	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls redialling after a lost connection. The delay
// starts at Backoff and doubles per failed attempt up to MaxBackoff.
type ReconnectConfig struct {
	// MaxRetries is the number of consecutive failed dials tolerated before
	// giving up. Zero disables reconnection.
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// PlaybackConfig configures the output device and scheduler.
type PlaybackConfig struct {
	// SampleRate is the rate of inbound PCM chunks. It is fixed by the
	// dialogue server at 24000 Hz.
	SampleRate int `yaml:"sample_rate"`

	// Output is the path rendered PCM is written to; "-" is stdout.
	Output string `yaml:"output"`

	FrameDuration time.Duration `yaml:"frame_duration"`

	// DecodeLookahead bounds the number of chunk decodes in flight.
	DecodeLookahead int `yaml:"decode_lookahead"`

	// Filter is the radio band-pass. Hot-reloadable.
	Filter FilterConfig `yaml:"filter"`
}

// Format returns the mono output format.
func (p PlaybackConfig) Format() audio.Format {
	return audio.Format{SampleRate: p.SampleRate, Channels: 1}
}

// FilterConfig is the YAML form of [device.FilterSpec].
type FilterConfig struct {
	Enabled bool    `yaml:"enabled"`
	LowHz   float64 `yaml:"low_hz"`
	HighHz  float64 `yaml:"high_hz"`
	Q       float64 `yaml:"q"`
}

// Spec converts f to the device filter specification.
func (f FilterConfig) Spec() device.FilterSpec {
	return device.FilterSpec{Enabled: f.Enabled, LowHz: f.LowHz, HighHz: f.HighHz, Q: f.Q}
}

// CaptureConfig configures the microphone and outbound chunking.
type CaptureConfig struct {
	// SampleRate is the outbound rate expected by the dialogue server.
	SampleRate int `yaml:"sample_rate"`

	// Input is the path raw PCM is read from (a FIFO fed by arecord or sox).
	// Empty disables capture.
	Input string `yaml:"input"`

	// InputSampleRate and InputChannels describe the PCM found at Input.
	// InputSampleRate defaults to SampleRate.
	InputSampleRate int `yaml:"input_sample_rate"`
	InputChannels   int `yaml:"input_channels"`

	ChunkDuration time.Duration `yaml:"chunk_duration"`

	// Pace reads Input in real time. Needed for regular files; FIFOs are
	// paced by their writer.
	Pace bool `yaml:"pace"`

	// EchoCancellation requests echo cancellation from the microphone.
	EchoCancellation bool `yaml:"echo_cancellation"`
}

// Format returns the mono outbound format.
func (c CaptureConfig) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: 1}
}

// InputFormat returns the format of the PCM read from Input. A zero input
// rate means the input already runs at SampleRate.
func (c CaptureConfig) InputFormat() audio.Format {
	rate := c.InputSampleRate
	if rate == 0 {
		rate = c.SampleRate
	}
	return audio.Format{SampleRate: rate, Channels: c.InputChannels}
}

// Default returns a configuration with every default applied. [LoadFromReader]
// decodes on top of it, so omitted YAML keys keep these values.
func Default() *Config {
	d := device.DefaultFilter
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
		},
		Transport: TransportConfig{
			URL:         DefaultTransportURL,
			DialTimeout: DefaultDialTimeout,
			ReadLimit:   DefaultReadLimit,
			Reconnect: ReconnectConfig{
				MaxRetries: DefaultMaxRetries,
				Backoff:    DefaultBackoff,
				MaxBackoff: DefaultMaxBackoff,
			},
		},
		Playback: PlaybackConfig{
			SampleRate:      audio.PlaybackSampleRate,
			Output:          DefaultOutput,
			FrameDuration:   DefaultFrameDuration,
			DecodeLookahead: DefaultDecodeLookahead,
			Filter:          FilterConfig{Enabled: d.Enabled, LowHz: d.LowHz, HighHz: d.HighHz, Q: d.Q},
		},
		Capture: CaptureConfig{
			SampleRate:       audio.CaptureSampleRate,
			InputChannels:    1,
			ChunkDuration:    DefaultChunkDuration,
			EchoCancellation: true,
		},
	}
}
