package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridsync/internal/platform/middleware"
	"gridsync/pkg/platform/httputil"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// Check is one readiness dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// NewRouter wires the platform endpoints and mounts every module. Module
// handlers carry their own middleware chain.
func NewRouter(logger *slog.Logger, checks []Check, registrars ...Registrar) chi.Router {
	r := chi.NewRouter()

	platform := r.With(middleware.Recovery(logger))
	platform.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	platform.Get("/readyz", readiness(logger, checks))
	platform.Handle("/metrics", promhttp.Handler())

	for _, reg := range registrars {
		reg.Register(r)
	}
	return r
}

func readiness(logger *slog.Logger, checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "dependency", c.Name, "error", err)
				results[c.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}
