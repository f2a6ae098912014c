package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brulejr/autohome/internal/metrics"
)

// defaultFeedPath serves the live feed when websocket.path is unset.
const defaultFeedPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID, s.accessLog, s.recoverPanics, limitBody)

	// Prometheus scrape
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/broker", s.handleBrokerStatus)
		r.Post("/publish", s.handlePublish)
		r.Get(s.feedPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) feedPath() string {
	if s.wsCfg.Path == "" {
		return defaultFeedPath
	}
	return s.wsCfg.Path
}
