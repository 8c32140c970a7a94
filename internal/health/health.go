// Package health serves the liveness and readiness probes.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes, 503 otherwise.
//
// Both respond with JSON: a "status" of "ok" or "fail", the process uptime,
// and for /readyz a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// can serve traffic.
type Checker struct {
	// Name is the key of this check in the response, e.g. "reply".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Readier is implemented by components that can report their own readiness,
// such as the reply failover group.
type Readier interface {
	CheckReady(ctx context.Context) error
}

// Check adapts a [Readier] into a [Checker].
func Check(name string, r Readier) Checker {
	return Checker{Name: name, Check: r.CheckReady}
}

type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option is a functional option for [New].
type Option func(*Handler)

// WithClock sets the clock used for the uptime report.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) {
		h.clock = c
	}
}

// WithCheckers adds readiness checks.
func WithCheckers(checkers ...Checker) Option {
	return func(h *Handler) {
		h.checkers = append(h.checkers, checkers...)
	}
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	clock    clockwork.Clock
	started  time.Time
}

// New creates a [Handler]. Readiness checks run concurrently on each /readyz
// request.
func New(opts ...Option) *Handler {
	h := &Handler{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(h)
	}
	h.started = h.clock.Now()
	return h
}

func (h *Handler) uptime() string {
	return h.clock.Since(h.started).Truncate(time.Second).String()
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Uptime: h.uptime()})
}

// Readyz is the readiness probe. Each checker gets its own [checkTimeout]
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return errs[i]
		})
	}
	// The group has no shared context, so one failure does not cancel the
	// other checks and every result lands in errs.
	failed := g.Wait() != nil

	res := result{
		Status: "ok",
		Uptime: h.uptime(),
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
