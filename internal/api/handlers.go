// Package api is the read-only JSON surface over the persisted ESI status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/statusview"
)

// Handlers serves the status endpoints
type Handlers struct {
	view          *statusview.View
	pipelineState func() string
	started       time.Time
}

// Option configures Handlers
type Option func(*Handlers)

// WithPipelineState reports the scheduler's current state on /health
func WithPipelineState(state func() string) Option {
	return func(h *Handlers) {
		h.pipelineState = state
	}
}

// NewHandlers creates the handlers over view
func NewHandlers(view *statusview.View, opts ...Option) *Handlers {
	h := &Handlers{view: view, started: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StatusHandler returns the aggregated view of the current snapshot. Before
// the first snapshot exists it answers 200 with state "no_data".
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.view.Current(r.Context())
	if errors.Is(err, statusview.ErrNoData) {
		writeJSON(w, http.StatusOK, map[string]string{"state": "no_data"})
		return
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Failed to build ESI status view")

		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to build ESI status view",
		})
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// RoutesHandler returns the enriched routes of the current snapshot
func (h *Handlers) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.view.Snapshot(r.Context())
	if errors.Is(err, statusview.ErrNoData) {
		writeJSON(w, http.StatusOK, map[string]string{"state": "no_data"})
		return
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Failed to load ESI status snapshot")

		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to load ESI status snapshot",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"compatibility_date": snap.CompatibilityDate,
		"total_endpoints":    snap.TotalEndpoints(),
		"updated_at":         snap.UpdatedAt,
		"status_data":        snap.StatusData,
	})
}

// HealthHandler reports liveness
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.pipelineState != nil {
		response["pipeline_state"] = h.pipelineState()
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
