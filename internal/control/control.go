// Package control serves the HTTP push-to-talk surface.
//
//	POST /ptt/press    gesture-down from the pointer (or ?source=keyboard)
//	POST /ptt/release  gesture-up
//	GET  /status       JSON snapshot of the current call
//
// A pointer held on a remote button maps to press on pointer-down and release
// on pointer-up, mirroring the keyboard hold on the terminal.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/mirchi/internal/session"
	"github.com/MrWong99/mirchi/pkg/audio"
	"github.com/MrWong99/mirchi/pkg/audio/capture"
)

// ErrNoSession is returned by a [Target] while no call is connected.
var ErrNoSession = errors.New("control: no active session")

// Target receives gestures and reports status. *session.Session satisfies it
// directly; a supervisor that swaps sessions across reconnects can too.
type Target interface {
	Press(source string) error
	Release(source string) error
	Status() session.Status
}

// Server handles the control endpoints.
type Server struct {
	target Target
	log    *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a control server for target.
func New(target Target, opts ...Option) *Server {
	s := &Server{target: target, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ptt/press", s.handlePress)
	mux.HandleFunc("POST /ptt/release", s.handleRelease)
	mux.HandleFunc("GET /status", s.handleStatus)
}

// gestureResponse is the JSON body returned from the ptt endpoints.
type gestureResponse struct {
	Capture string   `json:"capture"`
	Held    []string `json:"held,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	s.gesture(w, r, s.target.Press)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.gesture(w, r, s.target.Release)
}

func (s *Server) gesture(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	source := r.URL.Query().Get("source")
	switch source {
	case "":
		source = capture.SourcePointer
	case capture.SourcePointer, capture.SourceKeyboard:
	default:
		writeJSON(w, http.StatusBadRequest, gestureResponse{Error: "unknown source " + source})
		return
	}

	err := fn(source)
	st := s.target.Status()
	res := gestureResponse{Capture: st.Capture, Held: st.Held}
	if err != nil {
		s.log.Warn("control: gesture failed", "path", r.URL.Path, "source", source, "err", err)
		res.Error = err.Error()
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.target.Status())
}

// statusFor maps gesture errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrCaptureDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, capture.ErrTransportNotReady),
		errors.Is(err, capture.ErrClosed),
		errors.Is(err, ErrNoSession):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
