package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"guildtunes/internal/models"
)

const sseKeepAlive = 30 * time.Second

type playerEvent struct {
	GuildID string                `json:"guildId"`
	Player  models.PlayerSnapshot `json:"player"`
}

// handlePlayersSSE streams player snapshots. ?guild= limits the stream to
// one guild. Current snapshots are sent first.
func (s *Server) handlePlayersSSE(w http.ResponseWriter, r *http.Request) {
	if s.players == nil {
		writeError(w, http.StatusServiceUnavailable, "players not configured")
		return
	}
	guild := r.URL.Query().Get("guild")
	if guild != "" && !isSnowflake(guild) {
		writeError(w, http.StatusBadRequest, "invalid guild")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.players.Subscribe()
	defer s.players.Unsubscribe(ch)

	send := func(snap models.PlayerSnapshot) {
		if guild != "" && snap.GuildID != guild {
			return
		}
		data, err := json.Marshal(playerEvent{GuildID: snap.GuildID, Player: snap})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: player\ndata: %s\n\n", data)
	}

	for _, snap := range s.players.Snapshots() {
		send(snap)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case snap, ok := <-ch:
			if !ok {
				return
			}
			send(snap)
			flusher.Flush()
		}
	}
}
