// Package handlers provides HTTP handlers for portfolio optimization and allocation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/recommender/internal/domain"
	"github.com/aristath/recommender/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles optimizer HTTP requests
type Handler struct {
	service *optimization.OptimizerService
	log     zerolog.Logger
}

// NewHandler creates a new optimizer handler
func NewHandler(service *optimization.OptimizerService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimizer").Logger(),
	}
}

// AllocateRequest is the body of POST /optimizer/allocate.
// Budget accepts a JSON string or number.
type AllocateRequest struct {
	Weights map[string]float64 `json:"weights"`
	Budget  decimal.Decimal    `json:"budget"`
}

// PolicyResponse is the body of GET /optimizer/policy
type PolicyResponse struct {
	PreferenceBoost float64                 `json:"preference_boost"`
	Tiers           []optimization.TierView `json:"tiers"`
}

// HandleOptimize handles POST /api/optimizer/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimization.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.New(domain.KindInvalidInput, "invalid request body: %v", err))
		return
	}

	rec, err := h.service.Optimize(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(rec))
}

// HandleAllocate handles POST /api/optimizer/allocate
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.New(domain.KindInvalidInput, "invalid request body: %v", err))
		return
	}

	result, err := h.service.Allocate(r.Context(), req.Weights, req.Budget)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(result))
}

// HandleGetPolicy handles GET /api/optimizer/policy
func (h *Handler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	table := h.service.Policy()
	h.writeJSON(w, http.StatusOK, envelope(PolicyResponse{
		PreferenceBoost: table.PreferenceBoost(),
		Tiers:           table.Tiers(),
	}))
}

// writeError maps engine failures to HTTP statuses: request validation errors
// are 400, other structured failures 422, anything else 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		h.log.Error().Err(err).Msg("Optimizer request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorBody("Internal", "internal error"))
		return
	}

	status := http.StatusUnprocessableEntity
	if de.Kind == domain.KindInvalidInput {
		status = http.StatusBadRequest
	}
	h.log.Debug().Str("kind", string(de.Kind)).Str("reason", de.Reason).Msg("Optimizer request rejected")
	h.writeJSON(w, status, errorBody(string(de.Kind), de.Reason))
}

func errorBody(kind, reason string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]string{
			"kind":   kind,
			"reason": reason,
		},
	}
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
