// Package handlers provides HTTP handlers for the investable universe.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/rs/zerolog"
)

// ProfileDefaults are the engine parameters used when a request does not override them
type ProfileDefaults struct {
	Lookback       int
	PeriodsPerYear int
	RiskFreeRate   float64
}

// Handler handles universe HTTP requests
type Handler struct {
	service  *universe.Service
	defaults ProfileDefaults
	log      zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(service *universe.Service, defaults ProfileDefaults, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		defaults: defaults,
		log:      log.With().Str("handler", "universe").Logger(),
	}
}

// HandleGetUniverse handles GET /api/universe
func (h *Handler) HandleGetUniverse(w http.ResponseWriter, r *http.Request) {
	securities, err := h.service.Securities(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get securities")
		http.Error(w, "Failed to get securities", http.StatusInternalServerError)
		return
	}
	if securities == nil {
		securities = []universe.Security{}
	}

	h.writeJSON(w, http.StatusOK, envelope(securities))
}

// HandleGetStats handles GET /api/universe/stats
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get universe stats")
		http.Error(w, "Failed to get universe stats", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(stats))
}

// HandleGetReturns handles GET /api/universe/returns?lookback=N
func (h *Handler) HandleGetReturns(w http.ResponseWriter, r *http.Request) {
	lookback := h.defaults.Lookback
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "lookback must be a positive integer", http.StatusBadRequest)
			return
		}
		lookback = v
	}

	profiles, err := h.service.ReturnProfiles(r.Context(), lookback, h.defaults.PeriodsPerYear, h.defaults.RiskFreeRate)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute return profiles")
		http.Error(w, "Failed to compute return profiles", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(profiles))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
