package control_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/mirchi/internal/control"
	"github.com/MrWong99/mirchi/internal/session"
	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/capture"
)

// fakeTarget records gestures and returns a configurable error.
type fakeTarget struct {
	mu    sync.Mutex
	err   error
	calls []string
	held  []string
}

func (f *fakeTarget) Press(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "press:"+source)
	if f.err == nil && !slices.Contains(f.held, source) {
		f.held = append(f.held, source)
	}
	return f.err
}

func (f *fakeTarget) Release(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "release:"+source)
	f.held = slices.DeleteFunc(f.held, func(s string) bool { return s == source })
	return f.err
}

func (f *fakeTarget) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := session.Status{State: "open", Capture: capture.Released.String(), Held: slices.Clone(f.held)}
	if len(f.held) > 0 {
		st.Capture = capture.Pressed.String()
	}
	return st
}

func (f *fakeTarget) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func do(t *testing.T, target control.Target, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	control.New(target).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestServer_PressRelease(t *testing.T) {
	t.Parallel()
	target := &fakeTarget{}

	rec, body := do(t, target, http.MethodPost, "/ptt/press")
	if rec.Code != http.StatusOK || body["capture"] != "PRESSED" {
		t.Fatalf("press: %d %v", rec.Code, body)
	}
	rec, body = do(t, target, http.MethodPost, "/ptt/release")
	if rec.Code != http.StatusOK || body["capture"] != "RELEASED" {
		t.Fatalf("release: %d %v", rec.Code, body)
	}
	_, _ = do(t, target, http.MethodPost, "/ptt/press?source=keyboard")

	want := []string{"press:pointer", "release:pointer", "press:keyboard"}
	if got := target.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestServer_UnknownSource(t *testing.T) {
	t.Parallel()
	target := &fakeTarget{}
	rec, _ := do(t, target, http.MethodPost, "/ptt/press?source=foot")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(target.Calls()) != 0 {
		t.Error("target called for an unknown source")
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("session: start capture: %w", audio.ErrPermissionDenied), http.StatusForbidden},
		{capture.ErrTransportNotReady, http.StatusServiceUnavailable},
		{capture.ErrClosed, http.StatusServiceUnavailable},
		{control.ErrNoSession, http.StatusServiceUnavailable},
		{session.ErrCaptureDisabled, http.StatusNotImplemented},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			t.Parallel()
			rec, body := do(t, &fakeTarget{err: tc.err}, http.MethodPost, "/ptt/press")
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			if body["error"] != tc.err.Error() {
				t.Errorf("error = %v", body["error"])
			}
			if body["capture"] != "RELEASED" {
				t.Errorf("capture = %v", body["capture"])
			}
		})
	}
}

func TestServer_Status(t *testing.T) {
	t.Parallel()
	rec, body := do(t, &fakeTarget{held: []string{capture.SourceKeyboard}}, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["state"] != "open" || body["capture"] != "PRESSED" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["playback"].(map[string]any); !ok {
		t.Errorf("playback missing: %v", body)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	control.New(&fakeTarget{}).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ptt/press", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
