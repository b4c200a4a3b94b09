package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stealthcompany.com/esistatus/internal/metrics"
)

// SetupRoutes configures and returns the HTTP router
func SetupRoutes(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	r.Use(metrics.MetricsMiddleware)

	r.HandleFunc("/api/status", h.StatusHandler).Methods("GET")
	r.HandleFunc("/api/status/routes", h.RoutesHandler).Methods("GET")
	r.HandleFunc("/health", h.HealthHandler).Methods("GET")

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetInstance().Registry(), promhttp.HandlerOpts{})).Methods("GET")

	return r
}
