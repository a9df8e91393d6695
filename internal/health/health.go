// Package health serves the liveness and readiness probes of the client.
//
// GET /healthz answers 200 while the process is up and reports its uptime.
// GET /readyz runs every [Checker] and answers 200 only if all of them pass,
// 503 otherwise. Both reply with a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one /readyz evaluation.
const checkTimeout = 5 * time.Second

// Report statuses.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// ErrNotReady is returned by [ReadyChecker] while its target is not usable.
var ErrNotReady = errors.New("not ready")

// Checker is one named readiness condition.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Readier reports whether a component can be used right now. The app
// implements it for the transport session.
type Readier interface {
	Ready() bool
}

// ReadyChecker turns r into a [Checker] failing with [ErrNotReady].
func ReadyChecker(name string, r Readier) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if r.Ready() {
			return nil
		}
		return ErrNotReady
	}}
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status string  `json:"status"`
	Error  string  `json:"error,omitempty"`
	TookMS float64 `json:"took_ms"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. It never runs the checkers.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{
		Status: StatusOK,
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs all checkers concurrently under [checkTimeout]. One failure
// does not cut the others short.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	rep := h.evaluate(ctx)
	code := http.StatusOK
	if rep.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (h *Handler) evaluate(ctx context.Context) Report {
	rep := Report{Status: StatusOK}
	if len(h.checkers) == 0 {
		return rep
	}
	rep.Checks = make(map[string]CheckResult, len(h.checkers))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			res := run(ctx, c)
			mu.Lock()
			rep.Checks[c.Name] = res
			if res.Status != StatusOK {
				rep.Status = StatusFail
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func run(ctx context.Context, c Checker) CheckResult {
	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Status: StatusOK,
		TookMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = StatusFail
		res.Error = err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
