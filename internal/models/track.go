package models

import (
	"encoding/json"
	"time"
)

// TrackInfo is the metadata a worker attaches to a loaded track.
// Length and Position are in milliseconds.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	SourceName string `json:"sourceName"`
}

// Track is an opaque worker-encoded handle plus its metadata.
// Tracks are never mutated after they have been loaded.
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
}

type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AutoplayRequester marks entries enqueued by autoplay rather than a user.
var AutoplayRequester = Requester{ID: "autoplay", Name: "Autoplay"}

type QueueEntry struct {
	Track     Track     `json:"track"`
	Requester Requester `json:"requester"`
}

type HistoryEntry struct {
	QueueEntry
	PlayedAt time.Time `json:"playedAt"`
}

type LoopMode string

const (
	LoopNone  LoopMode = "none"
	LoopTrack LoopMode = "track"
	LoopQueue LoopMode = "queue"
)

func (m LoopMode) Valid() bool {
	switch m {
	case LoopNone, LoopTrack, LoopQueue:
		return true
	}
	return false
}

// TrackEndReason is the reason a worker reports when a track stops.
type TrackEndReason string

const (
	EndFinished   TrackEndReason = "finished"
	EndLoadFailed TrackEndReason = "loadFailed"
	EndStopped    TrackEndReason = "stopped"
	EndReplaced   TrackEndReason = "replaced"
	EndCleanup    TrackEndReason = "cleanup"
)
