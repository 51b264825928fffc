package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessMiddleware)

	// Prometheus exposition
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Uploads carry their own, larger, limit.
		r.Post("/upload", s.handleUpload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestSize(maxRequestBodySize))

			r.Get("/health", s.handleHealth)
			r.Get("/status", s.handleStatus)
			r.Post("/estop", s.handleEmergencyStop)
			r.Get("/events", s.handleListEvents)
			r.Get("/shadow", s.handleGetShadow)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}
