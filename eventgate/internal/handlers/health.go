// Package handlers serves the eventgate HTTP surface: health probes and
// read-only views over the event store.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/telhawk-systems/eventgate/common/httputil"
	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

// Store is the part of the event store the health endpoints read.
type Store interface {
	Ping(ctx context.Context) error
	CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error)
}

// Pinger is an optional dependency checked by readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeadLetterStats reports on the dead-letter stream.
type DeadLetterStats interface {
	Stats(ctx context.Context) dlq.Stats
}

// HealthHandler serves liveness, readiness and processing statistics.
type HealthHandler struct {
	store        Store
	broker       messaging.Client
	cache        Pinger
	deadLetters  DeadLetterStats
	checkTimeout time.Duration
}

// Option configures a HealthHandler.
type Option func(*HealthHandler)

// WithBroker adds the broker connection to readiness.
func WithBroker(c messaging.Client) Option {
	return func(h *HealthHandler) { h.broker = c }
}

// WithCache adds the processed cache to readiness. Cache failures are
// reported but do not make the service unready.
func WithCache(p Pinger) Option {
	return func(h *HealthHandler) { h.cache = p }
}

// WithDeadLetters includes dead-letter stream statistics in Stats.
func WithDeadLetters(d DeadLetterStats) Option {
	return func(h *HealthHandler) { h.deadLetters = d }
}

// NewHealthHandler constructs a new handler.
func NewHealthHandler(store Store, opts ...Option) *HealthHandler {
	h := &HealthHandler{store: store, checkTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StatsResponse summarises event rows and dead-lettered messages.
type StatsResponse struct {
	Events      map[models.EventStatus]int64 `json:"events"`
	DeadLetters *dlq.Stats                   `json:"dead_letters,omitempty"`
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz. It fails when the database or broker is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Checks: map[string]string{}}

	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "unready"
		resp.Checks["database"] = err.Error()
	} else {
		resp.Checks["database"] = "ok"
	}

	if h.broker != nil {
		status := messaging.CheckClientHealth(ctx, h.broker)
		if status.Healthy() {
			resp.Checks["broker"] = "ok"
		} else {
			resp.Status = "unready"
			resp.Checks["broker"] = status.Error
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			resp.Checks["cache"] = "degraded: " + err.Error()
		} else {
			resp.Checks["cache"] = "ok"
		}
	}

	code := http.StatusOK
	if resp.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, resp)
}

// Stats handles GET /api/v1/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	counts, err := h.store.CountByStatus(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}

	for _, s := range []models.EventStatus{models.StatusProcessing, models.StatusFailed, models.StatusProcessed} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}

	resp := StatsResponse{Events: counts}
	if h.deadLetters != nil {
		s := h.deadLetters.Stats(r.Context())
		resp.DeadLetters = &s
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
