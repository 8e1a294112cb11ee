// Package server exposes player state, node health, play history and
// metrics over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"guildtunes/internal/models"
	"guildtunes/internal/pool"
	"guildtunes/internal/store"
)

// Players is the read side of the coordinator.
type Players interface {
	Snapshot(guildID string) (models.PlayerSnapshot, bool)
	Snapshots() []models.PlayerSnapshot
	History(ctx context.Context, guildID string) ([]models.HistoryEntry, error)
	Subscribe() chan models.PlayerSnapshot
	Unsubscribe(ch chan models.PlayerSnapshot)
}

// NodeLister reports audio node health.
type NodeLister interface {
	Status() []pool.NodeStatus
}

type Server struct {
	router     chi.Router
	store      *store.Store
	players    Players
	nodes      NodeLister
	metrics    http.Handler
	corsOrigin string
	limiter    *ipLimiter
}

func NewServer(s *store.Store, opts ...Option) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		store:   s,
		limiter: newIPLimiter(searchRate, searchBurst),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.RequestID)
	srv.router.Use(requestLogger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithPlayers(p Players) Option {
	return func(s *Server) { s.players = p }
}

func WithNodes(n NodeLister) Option {
	return func(s *Server) { s.nodes = n }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.stop()
}
