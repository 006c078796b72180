// Package health serves liveness and readiness probes for long-running
// commands such as watch.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/bosstimer/internal/clock"
)

// Report is the probe response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   string            `json:"time"`
}

// Check reports a dependency's health; nil means healthy.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// Handler answers /healthz and /readyz.
type Handler struct {
	mu     sync.RWMutex
	ready  bool
	checks []namedCheck
	clock  clock.Clock
}

// NewHandler returns a Handler that is not yet ready.
func NewHandler(clk clock.Clock) *Handler {
	return &Handler{clock: clk}
}

// Add registers a readiness check.
func (h *Handler) Add(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: c})
}

// SetReady marks the process as ready once its work has started.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Mux routes /healthz and /readyz to h.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.liveness)
	mux.HandleFunc("GET /readyz", h.readiness)
	return mux
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok", Time: h.now()})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, Report{Status: "starting", Time: h.now()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := Report{Status: "ready", Checks: make(map[string]string, len(checks))}
	code := http.StatusOK
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			report.Checks[c.name] = err.Error()
			report.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		report.Checks[c.name] = "ok"
	}
	report.Time = h.now()
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs an HTTP server for h on addr until ctx is done, then shuts it
// down.
func Serve(ctx context.Context, addr string, h *Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting health server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down health server: %w", err)
	}
	return nil
}
