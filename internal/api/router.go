package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and scraping (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/system/stats", s.handleSystemStats)
			r.Get("/audit", s.handleListAudit)

			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", s.handleListNodes)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetNode)
					r.Get("/location", s.handleGetLocation)
					r.Put("/location", s.handleSetLocation)
					r.Get("/classes", s.handleGetClasses)
					r.Get("/objects", s.handleGetObjects)
					r.Get("/objects/{obj}/properties/{prop}", s.handleGetProperty)
					r.Put("/objects/{obj}/properties/{prop}", s.handleSetProperty)
					r.Post("/mode/{mode}", s.handleSendMode)
				})
			})

			r.Route("/controller", func(r chi.Router) {
				r.Post("/add", s.handleControllerAdd)
				r.Post("/stop", s.handleControllerStop)
				r.Post("/reset", s.handleControllerReset)
				r.Post("/learn", s.handleControllerLearn)
				r.Get("/status", s.handleControllerStatus)
				r.Get("/wait", s.handleControllerWait)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
