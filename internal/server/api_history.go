package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"guildtunes/internal/models"
	"guildtunes/internal/store"
)

const maxSearchLength = 100

// handleListPlays lists persisted plays, newest first. Query parameters:
// search (title or author) and limit.
func (s *Server) handleListPlays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := q.Get("search")
	if len(search) > maxSearchLength {
		writeError(w, http.StatusBadRequest, "search too long")
		return
	}
	limit := store.DefaultPlaysLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, store.MaxPlaysLimit)
	}

	guildID := chi.URLParam(r, "guildID")
	plays, err := s.store.ListPlays(r.Context(), guildID, store.PlayFilter{Search: search, Limit: limit})
	if err != nil {
		slog.Error("listing plays", "guild", guildID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if plays == nil {
		plays = []models.PlayRecord{}
	}
	writeJSON(w, http.StatusOK, plays)
}
