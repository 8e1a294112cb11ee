package lavalink

import (
	"encoding/json"
	"fmt"

	"guildtunes/internal/models"
)

type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Stats is the health report a node pushes periodically and serves on /v4/stats.
type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         Memory      `json:"memory"`
	CPU            CPU         `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

// Penalty ranks nodes for selection; lower is better.
func (s Stats) Penalty() float64 {
	return s.CPU.SystemLoad + float64(s.PlayingPlayers)*5
}

type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId,omitempty"`
}

type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type Karaoke struct {
	Level       *float64 `json:"level,omitempty"`
	MonoLevel   *float64 `json:"monoLevel,omitempty"`
	FilterBand  *float64 `json:"filterBand,omitempty"`
	FilterWidth *float64 `json:"filterWidth,omitempty"`
}

type Timescale struct {
	Speed *float64 `json:"speed,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Rate  *float64 `json:"rate,omitempty"`
}

type Oscillation struct {
	Frequency *float64 `json:"frequency,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
}

type Rotation struct {
	RotationHz *float64 `json:"rotationHz,omitempty"`
}

type Distortion struct {
	SinOffset *float64 `json:"sinOffset,omitempty"`
	SinScale  *float64 `json:"sinScale,omitempty"`
	CosOffset *float64 `json:"cosOffset,omitempty"`
	CosScale  *float64 `json:"cosScale,omitempty"`
	TanOffset *float64 `json:"tanOffset,omitempty"`
	TanScale  *float64 `json:"tanScale,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
}

type ChannelMix struct {
	LeftToLeft   *float64 `json:"leftToLeft,omitempty"`
	LeftToRight  *float64 `json:"leftToRight,omitempty"`
	RightToLeft  *float64 `json:"rightToLeft,omitempty"`
	RightToRight *float64 `json:"rightToRight,omitempty"`
}

type LowPass struct {
	Smoothing *float64 `json:"smoothing,omitempty"`
}

// Filters is sent verbatim to the node. An empty value clears all filters.
type Filters struct {
	Volume     *float64        `json:"volume,omitempty"`
	Equalizer  []EqualizerBand `json:"equalizer,omitempty"`
	Karaoke    *Karaoke        `json:"karaoke,omitempty"`
	Timescale  *Timescale      `json:"timescale,omitempty"`
	Tremolo    *Oscillation    `json:"tremolo,omitempty"`
	Vibrato    *Oscillation    `json:"vibrato,omitempty"`
	Rotation   *Rotation       `json:"rotation,omitempty"`
	Distortion *Distortion     `json:"distortion,omitempty"`
	ChannelMix *ChannelMix     `json:"channelMix,omitempty"`
	LowPass    *LowPass        `json:"lowPass,omitempty"`
}

// Player is a node's view of a guild player.
type Player struct {
	GuildID string        `json:"guildId"`
	Track   *models.Track `json:"track"`
	Volume  int           `json:"volume"`
	Paused  bool          `json:"paused"`
	State   PlayerState   `json:"state"`
	Voice   VoiceState    `json:"voice"`
	Filters Filters       `json:"filters"`
}

// UpdateTrack selects what a node should play. A nil Encoded stops playback.
type UpdateTrack struct {
	Encoded  *string         `json:"encoded"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

type PlayerUpdate struct {
	Track    *UpdateTrack `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	EndTime  *int64       `json:"endTime,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Filters  *Filters     `json:"filters,omitempty"`
	Voice    *VoiceState  `json:"voice,omitempty"`
}

type LoadType string

const (
	LoadTrack    LoadType = "track"
	LoadPlaylist LoadType = "playlist"
	LoadSearch   LoadType = "search"
	LoadEmpty    LoadType = "empty"
	LoadError    LoadType = "error"
)

type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadResult flattens the loadtracks response: every load type that yields
// tracks fills Tracks.
type LoadResult struct {
	LoadType  LoadType
	Tracks    []models.Track
	Playlist  *PlaylistInfo
	Exception *Exception
}

func (r *LoadResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		LoadType LoadType        `json:"loadType"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.LoadType = raw.LoadType
	switch raw.LoadType {
	case LoadTrack:
		var t models.Track
		if err := json.Unmarshal(raw.Data, &t); err != nil {
			return fmt.Errorf("decoding track: %w", err)
		}
		r.Tracks = []models.Track{t}
	case LoadPlaylist:
		var p struct {
			Info   PlaylistInfo   `json:"info"`
			Tracks []models.Track `json:"tracks"`
		}
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return fmt.Errorf("decoding playlist: %w", err)
		}
		r.Playlist = &p.Info
		r.Tracks = p.Tracks
	case LoadSearch:
		if err := json.Unmarshal(raw.Data, &r.Tracks); err != nil {
			return fmt.Errorf("decoding search results: %w", err)
		}
	case LoadError:
		var e Exception
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return fmt.Errorf("decoding exception: %w", err)
		}
		r.Exception = &e
	case LoadEmpty:
	default:
		return fmt.Errorf("unknown load type %q", raw.LoadType)
	}
	return nil
}
