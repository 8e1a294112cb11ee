package models

import "time"

// SnapshotTrack is the published shape of a queued or playing track.
type SnapshotTrack struct {
	Encoded    string    `json:"encoded"`
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	URI        string    `json:"uri"`
	Length     int64     `json:"length"`
	ArtworkURL string    `json:"artworkUrl"`
	SourceName string    `json:"sourceName"`
	IsStream   bool      `json:"isStream"`
	IsSeekable bool      `json:"isSeekable"`
	Requester  Requester `json:"requester"`
}

func NewSnapshotTrack(e QueueEntry) SnapshotTrack {
	return SnapshotTrack{
		Encoded:    e.Track.Encoded,
		Identifier: e.Track.Info.Identifier,
		Title:      e.Track.Info.Title,
		Author:     e.Track.Info.Author,
		URI:        e.Track.Info.URI,
		Length:     e.Track.Info.Length,
		ArtworkURL: e.Track.Info.ArtworkURL,
		SourceName: e.Track.Info.SourceName,
		IsStream:   e.Track.Info.IsStream,
		IsSeekable: e.Track.Info.IsSeekable,
		Requester:  e.Requester,
	}
}

// PlayerSnapshot is the cached view of a guild player. Its JSON form is
// consumed by dashboards and must keep exactly these keys.
type PlayerSnapshot struct {
	GuildID  string          `json:"-"`
	Playing  bool            `json:"playing"`
	Paused   bool            `json:"paused"`
	Current  *SnapshotTrack  `json:"current"`
	Queue    []SnapshotTrack `json:"queue"`
	Position int64           `json:"position"`
	Volume   int             `json:"volume"`
	LoopMode LoopMode        `json:"loopMode"`
	Settings GuildSettings   `json:"settings"`
}

// EmptySnapshot is what a guild without a player publishes.
func EmptySnapshot(guildID string, settings GuildSettings) PlayerSnapshot {
	return PlayerSnapshot{
		GuildID:  guildID,
		Queue:    []SnapshotTrack{},
		Volume:   settings.DefaultVolume,
		LoopMode: LoopNone,
		Settings: settings,
	}
}

// PlayRecord is a persisted play, written when a track finishes.
type PlayRecord struct {
	ID         int64     `json:"id"`
	GuildID    string    `json:"guild_id"`
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	URI        string    `json:"uri"`
	LengthMs   int64     `json:"length_ms"`
	SourceName string    `json:"source_name"`
	Requester  Requester `json:"requester"`
	PlayedAt   time.Time `json:"played_at"`
}

// NewPlayRecord builds the record written when a track finishes.
func NewPlayRecord(guildID string, e QueueEntry, playedAt time.Time) *PlayRecord {
	info := e.Track.Info
	return &PlayRecord{
		GuildID:    guildID,
		Identifier: info.Identifier,
		Title:      info.Title,
		Author:     info.Author,
		URI:        info.URI,
		LengthMs:   info.Length,
		SourceName: info.SourceName,
		Requester:  e.Requester,
		PlayedAt:   playedAt.UTC(),
	}
}
