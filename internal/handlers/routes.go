package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures the gateway API routes.
func SetupRoutes(r chi.Router, h *Handler) {
	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Health check
	r.Get("/health", h.HealthCheck)

	// SBD
	r.Route("/sbd", func(r chi.Router) {
		r.Post("/tx", h.SubmitTx)
		r.Get("/status", h.GetStatus)
		r.Get("/signal", h.GetSignal)
		r.Get("/queue", h.GetQueue)
		r.Post("/rate", h.SetTxRate)
		r.Get("/events", h.StreamEvents)
	})
}
