package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/eventgate/common/middleware"
	"github.com/telhawk-systems/eventgate/eventgate/internal/handlers"
)

// NewRouter wires HTTP routes for the eventgate service.
func NewRouter(health *handlers.HealthHandler, events *handlers.EventsHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Health)
	mux.HandleFunc("/readyz", health.Ready)
	mux.HandleFunc("/api/v1/stats", health.Stats)
	mux.HandleFunc("/api/v1/events", events.List)
	mux.HandleFunc("/api/v1/events/{message_id}", events.Get)
	mux.Handle("/metrics", promhttp.Handler())
	return middleware.RequestID(mux)
}
