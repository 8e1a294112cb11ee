package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"guildtunes/internal/models"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if s.nodes == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.nodes.Status())
}

// handleListPlayers returns every active player keyed by guild id.
func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	out := map[string]models.PlayerSnapshot{}
	if s.players != nil {
		for _, snap := range s.players.Snapshots() {
			out[snap.GuildID] = snap
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetPlayer serves the cached snapshot, or an empty one built from
// stored settings when the guild has no player.
func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if s.players != nil {
		if snap, ok := s.players.Snapshot(guildID); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	gs, err := s.store.GetGuildSettings(r.Context(), guildID)
	if err != nil {
		slog.Error("loading guild settings", "guild", guildID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, models.EmptySnapshot(guildID, gs))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	gs, err := s.store.GetGuildSettings(r.Context(), guildID)
	if err != nil {
		slog.Error("loading guild settings", "guild", guildID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// handleQueueHistory returns the in-memory history of the live player.
func (s *Server) handleQueueHistory(w http.ResponseWriter, r *http.Request) {
	if s.players == nil {
		writeJSON(w, http.StatusOK, []models.HistoryEntry{})
		return
	}
	hist, err := s.players.History(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if hist == nil {
		hist = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}
