package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mirchi/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
transport:
  url: ws://radio.local/ws
`

const watcherUpdatedYAML = `
server:
  log_level: debug
transport:
  url: ws://radio.local/ws
playback:
  filter:
    enabled: false
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// rewrite replaces the file content and pushes its mtime forward so the
// change is visible on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	writeFile(t, path, content)
	at := time.Now().Add(bump)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// startWatcher writes initial, creates a watcher polling every 20ms, and
// runs it until the test ends.
func startWatcher(t *testing.T, initial string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirchi.yaml")
	writeFile(t, path, initial)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Transport.URL != "ws://radio.local/ws" {
		t.Errorf("transport.url = %q", cfg.Transport.URL)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	type change struct{ old, new *config.Config }
	changes := make(chan change, 1)
	w, path := startWatcher(t, watcherValidYAML, func(old, new *config.Config) {
		select {
		case changes <- change{old, new}:
		default:
		}
	})

	rewrite(t, path, watcherUpdatedYAML, 2*time.Second)

	var c change
	select {
	case c = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}

	d := config.Diff(c.old, c.new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.FilterChanged || d.NewFilter.Enabled {
		t.Errorf("filter diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required = %v, want none", d.RestartRequired)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current not updated")
	}
}

func TestWatcher_IgnoresInvalidAndTouchOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(t *testing.T, path string)
	}{
		{"invalid edit", func(t *testing.T, path string) {
			rewrite(t, path, watcherInvalidYAML, 2*time.Second)
		}},
		{"touch only", func(t *testing.T, path string) {
			at := time.Now().Add(2 * time.Second)
			if err := os.Chtimes(path, at, at); err != nil {
				t.Fatalf("chtimes: %v", err)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var mu sync.Mutex
			calls := 0
			w, path := startWatcher(t, watcherValidYAML, func(_, _ *config.Config) {
				mu.Lock()
				calls++
				mu.Unlock()
			})

			tc.modify(t, path)
			time.Sleep(200 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if calls != 0 {
				t.Errorf("callback fired %d times, want 0", calls)
			}
			if w.Current().Server.LogLevel != config.LogInfo {
				t.Error("current config replaced")
			}
		})
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/mirchi.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mirchi.yaml")
	writeFile(t, path, watcherValidYAML)

	calls := 0
	w, err := config.NewWatcher(path, func(_, _ *config.Config) { calls++ })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	// Same content: nothing to apply.
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload unchanged: %v", err)
	}
	if calls != 0 {
		t.Fatalf("callback fired %d times on unchanged file", calls)
	}

	// Content change without an mtime bump is still picked up.
	writeFile(t, path, watcherUpdatedYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload updated: %v", err)
	}
	if calls != 1 || w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("calls = %d, level = %q", calls, w.Current().Server.LogLevel)
	}

	writeFile(t, path, watcherInvalidYAML)
	if err := w.Reload(); err == nil {
		t.Error("Reload of invalid file: want error")
	}
	if calls != 1 || w.Current().Server.LogLevel != config.LogDebug {
		t.Error("invalid file replaced the current config")
	}
}
