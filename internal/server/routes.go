package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Get("/nodes", s.handleListNodes)
		r.Get("/players", s.handleListPlayers)

		r.Route("/guilds/{guildID}", func(gr chi.Router) {
			gr.Use(requireSnowflake("guildID"))
			gr.Get("/player", s.handleGetPlayer)
			gr.Get("/settings", s.handleGetSettings)
			gr.Get("/queue/history", s.handleQueueHistory)
			gr.With(s.rateLimit).Get("/history", s.handleListPlays)
		})
	})

	s.router.Group(func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Get("/api/players/sse", s.handlePlayersSSE)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error"})
		return
	}
	total, connected := 0, 0
	if s.nodes != nil {
		for _, n := range s.nodes.Status() {
			total++
			if n.Connected {
				connected++
			}
		}
	}
	status := "ok"
	if total > 0 && connected == 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"nodes":          total,
		"nodesConnected": connected,
	})
}
