package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// errUnchanged reports a reload that found the same content.
var errUnchanged = errors.New("config: unchanged")

// fileStamp identifies one version of the config file.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps the config file's last valid version current. It polls the
// file's mtime, re-parses on change and hands content changes to the
// callback. An edit that fails to parse or validate is logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads the config at path. The file must be valid now; later
// edits are picked up by [Watcher.Run] or [Watcher.Reload].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := readStamped(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// Reload re-reads the file now, regardless of its mtime, and applies it if
// the content changed. It returns the parse or validation error of an
// invalid file; the current config is kept in that case.
func (w *Watcher) Reload() error {
	err := w.apply()
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	same := info.ModTime().Equal(w.stamp.mtime)
	w.mu.Unlock()
	if same {
		return
	}

	if err := w.apply(); err != nil && !errors.Is(err, errUnchanged) {
		w.log.Warn("config: ignoring invalid edit", "path", w.path, "err", err)
	}
}

// apply loads the file and swaps it in when its content differs. The
// callback runs outside the lock so it may call Current.
func (w *Watcher) apply() error {
	cfg, stamp, err := readStamped(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		w.stamp.mtime = stamp.mtime
		w.mu.Unlock()
		return errUnchanged
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

func readStamped(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
