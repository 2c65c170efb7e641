package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/circuitbreaker"
	"github.com/lalithlochan/vigil/internal/metrics"
)

// base returns a router with the middleware both processes share plus
// /health, /metrics and the breaker status page.
func base(logger *zap.Logger, breakers []*circuitbreaker.CircuitBreaker) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status/breakers", func(w http.ResponseWriter, r *http.Request) {
		stats := make([]circuitbreaker.Stats, 0, len(breakers))
		for _, cb := range breakers {
			stats = append(stats, cb.Stats())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": stats})
	})

	return r
}

// NewRouter builds the foreground process router.
func NewRouter(logger *zap.Logger, h *Handler, breakers []*circuitbreaker.CircuitBreaker) http.Handler {
	r := base(logger, breakers)
	r.Route("/v1", h.Routes)
	return r
}

// NewWorkerRouter builds the background worker router.
func NewWorkerRouter(logger *zap.Logger, h *WakeHandler, breakers []*circuitbreaker.CircuitBreaker) http.Handler {
	r := base(logger, breakers)
	r.Post("/wake/{event}", h.Wake)
	return r
}
