package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path, expands ${VAR} references
// from the environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], expands
// environment references, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Transport
	if u, err := url.Parse(cfg.Transport.URL); err != nil {
		errs = append(errs, fmt.Errorf("transport.url %q: %w", cfg.Transport.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("transport.url %q must use ws or wss", cfg.Transport.URL))
	}
	if cfg.Transport.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.dial_timeout %s must not be negative", cfg.Transport.DialTimeout))
	}
	if cfg.Transport.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("transport.read_limit %d must be positive", cfg.Transport.ReadLimit))
	}

	if rc := cfg.Transport.Reconnect; rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect.max_retries %d must not be negative", rc.MaxRetries))
	} else if rc.MaxRetries > 0 && (rc.Backoff <= 0 || rc.MaxBackoff < rc.Backoff) {
		errs = append(errs, fmt.Errorf("transport.reconnect backoff %s..%s is invalid", rc.Backoff, rc.MaxBackoff))
	}

	// Playback
	p := cfg.Playback
	if p.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must be positive", p.SampleRate))
	}
	if p.Output == "" {
		errs = append(errs, errors.New("playback.output is required"))
	}
	if p.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("playback.frame_duration %s must be positive", p.FrameDuration))
	}
	if p.DecodeLookahead < 1 {
		errs = append(errs, fmt.Errorf("playback.decode_lookahead %d must be at least 1", p.DecodeLookahead))
	}
	if p.SampleRate > 0 {
		if err := p.Filter.Spec().Validate(p.SampleRate); err != nil {
			errs = append(errs, fmt.Errorf("playback.filter: %w", err))
		}
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", c.SampleRate))
	}
	if c.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.input_sample_rate %d must not be negative", c.InputSampleRate))
	}
	if c.InputChannels != 1 && c.InputChannels != 2 {
		errs = append(errs, fmt.Errorf("capture.input_channels %d is invalid; valid values: 1, 2", c.InputChannels))
	}
	if c.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_duration %s must be positive", c.ChunkDuration))
	}

	return errors.Join(errs...)
}
