package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers universe routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/universe", func(r chi.Router) {
		r.Get("/", h.HandleGetUniverse)
		r.Get("/stats", h.HandleGetStats)
		r.Get("/returns", h.HandleGetReturns)
	})
}
