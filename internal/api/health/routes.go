// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

// ReadinessCheck returns nil when the process can do useful work.
type ReadinessCheck func(ctx context.Context) error

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Ready is consulted by the readiness probe. A nil check always reports ready.
	Ready ReadinessCheck
}

// Routes binds all the health check endpoints.
func Routes(r chi.Router, cfg Config) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/liveness", liveness(cfg))
		r.Get("/readiness", readiness(cfg))
	})
}

// healthResponse represents the response for health check.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

// readyResponse represents the response for readiness check.
type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func liveness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready == nil {
			writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := cfg.Ready(ctx); err != nil {
			cfg.Log.Warn(ctx, "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not ready", Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
	}
}
