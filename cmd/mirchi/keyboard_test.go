package main

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingTarget struct {
	mu       sync.Mutex
	calls    []string
	pressErr error
}

func (r *recordingTarget) Press(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "press:"+source)
	return r.pressErr
}

func (r *recordingTarget) Release(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "release:"+source)
	return nil
}

func (r *recordingTarget) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func TestReadKeyboard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		pressErr error
		want     []string
	}{
		{
			name:  "toggle",
			input: "\n\n\n\n",
			want:  []string{"press:keyboard", "release:keyboard", "press:keyboard", "release:keyboard"},
		},
		{
			name:  "eof releases",
			input: "\n",
			want:  []string{"press:keyboard", "release:keyboard"},
		},
		{
			name:     "failed press still held",
			input:    "\n\n",
			pressErr: errors.New("transport not ready"),
			want:     []string{"press:keyboard", "release:keyboard"},
		},
		{
			name:  "no input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target := &recordingTarget{pressErr: tt.pressErr}
			readKeyboard(context.Background(), strings.NewReader(tt.input), target)
			if got := target.Calls(); !slices.Equal(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadKeyboard_CancelReleases(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	target := &recordingTarget{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		readKeyboard(ctx, pr, target)
		close(done)
	}()

	if _, err := pw.Write([]byte("\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(target.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("press not observed")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readKeyboard did not return after cancel")
	}
	want := []string{"press:keyboard", "release:keyboard"}
	if got := target.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestKeyboardMode(t *testing.T) {
	t.Parallel()
	if got := keyboardMode(true); got != "toggle (Enter)" {
		t.Errorf("keyboardMode(true) = %q", got)
	}
	if got := keyboardMode(false); got != "off" {
		t.Errorf("keyboardMode(false) = %q", got)
	}
	if !strings.Contains(keyboardUsage, "toggle") || !strings.Contains(keyboardUsage, "not hold-to-talk") {
		t.Errorf("usage %q does not say the key toggles", keyboardUsage)
	}
}
