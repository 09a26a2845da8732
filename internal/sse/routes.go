package sse

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the stream endpoint under /events.
// mws must authenticate the session and restrict it to administrators.
func RegisterRoutes(r chi.Router, handler *Handler, mws ...func(http.Handler) http.Handler) {
	r.Route("/events", func(r chi.Router) {
		r.Use(mws...)
		// GET /api/v1/events/stream
		r.Get("/stream", handler.HandleStream)
	})
}
