package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/queuectl/queuectl/internal/ws"
)

func NewRouter(q Queue, workers Workers, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := NewHandlers(q, workers)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Jobs API
	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", h.EnqueueJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
	})

	// Dead letter queue
	r.Route("/api/dlq", func(r chi.Router) {
		r.Get("/", h.ListDeadLetters)
		r.Post("/{id}/retry", h.RetryDeadLetter)
	})

	r.Get("/api/workers", h.ListWorkers)

	// WebSocket
	if hub != nil {
		r.Get("/ws/events", hub.HandleEvents)
	}

	return r
}
