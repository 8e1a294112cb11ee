package lavalink

import (
	"encoding/json"

	"guildtunes/internal/models"
)

// Event is one message from a node. The set of implementations is closed;
// consumers switch over the concrete types below.
type Event interface {
	event()
}

// GuildEvent is an Event scoped to a single guild player.
type GuildEvent interface {
	Event
	Guild() string
}

type ReadyEvent struct {
	SessionID string
	Resumed   bool
}

type PlayerUpdateEvent struct {
	GuildID string
	State   PlayerState
}

type StatsEvent struct {
	Stats Stats
}

type TrackStartEvent struct {
	GuildID string
	Track   models.Track
}

type TrackEndEvent struct {
	GuildID string
	Track   models.Track
	Reason  models.TrackEndReason
}

type TrackExceptionEvent struct {
	GuildID   string
	Track     models.Track
	Exception Exception
}

type TrackStuckEvent struct {
	GuildID     string
	Track       models.Track
	ThresholdMs int64
}

type WebSocketClosedEvent struct {
	GuildID  string
	Code     int
	Reason   string
	ByRemote bool
}

// DisconnectedEvent reports a dropped socket; a reconnect follows unless
// retries are exhausted.
type DisconnectedEvent struct {
	Err error
}

// ErrorEvent reports a node-level failure. Fatal means the node stopped
// reconnecting.
type ErrorEvent struct {
	Err   error
	Fatal bool
}

func (ReadyEvent) event()           {}
func (PlayerUpdateEvent) event()    {}
func (StatsEvent) event()           {}
func (TrackStartEvent) event()      {}
func (TrackEndEvent) event()        {}
func (TrackExceptionEvent) event()  {}
func (TrackStuckEvent) event()      {}
func (WebSocketClosedEvent) event() {}
func (DisconnectedEvent) event()    {}
func (ErrorEvent) event()           {}

func (e PlayerUpdateEvent) Guild() string    { return e.GuildID }
func (e TrackStartEvent) Guild() string      { return e.GuildID }
func (e TrackEndEvent) Guild() string        { return e.GuildID }
func (e TrackExceptionEvent) Guild() string  { return e.GuildID }
func (e TrackStuckEvent) Guild() string      { return e.GuildID }
func (e WebSocketClosedEvent) Guild() string { return e.GuildID }

type wsMessage struct {
	Op        string       `json:"op"`
	SessionID string       `json:"sessionId"`
	Resumed   bool         `json:"resumed"`
	GuildID   string       `json:"guildId"`
	State     PlayerState  `json:"state"`
	Type      string       `json:"type"`
	Track     models.Track `json:"track"`
	Reason    string       `json:"reason"`
	Exception Exception    `json:"exception"`
	Threshold int64        `json:"thresholdMs"`
	Code      int          `json:"code"`
	ByRemote  bool         `json:"byRemote"`
}

// parseMessage decodes one text frame. Malformed or unknown frames yield
// ok=false and are dropped by the caller.
func parseMessage(data []byte) (Event, bool) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	switch msg.Op {
	case "ready":
		return ReadyEvent{SessionID: msg.SessionID, Resumed: msg.Resumed}, true
	case "playerUpdate":
		return PlayerUpdateEvent{GuildID: msg.GuildID, State: msg.State}, true
	case "stats":
		var s Stats
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, false
		}
		return StatsEvent{Stats: s}, true
	case "event":
		return parseEvent(msg)
	}
	return nil, false
}

func parseEvent(msg wsMessage) (Event, bool) {
	switch msg.Type {
	case "TrackStartEvent":
		return TrackStartEvent{GuildID: msg.GuildID, Track: msg.Track}, true
	case "TrackEndEvent":
		return TrackEndEvent{GuildID: msg.GuildID, Track: msg.Track, Reason: models.TrackEndReason(msg.Reason)}, true
	case "TrackExceptionEvent":
		return TrackExceptionEvent{GuildID: msg.GuildID, Track: msg.Track, Exception: msg.Exception}, true
	case "TrackStuckEvent":
		return TrackStuckEvent{GuildID: msg.GuildID, Track: msg.Track, ThresholdMs: msg.Threshold}, true
	case "WebSocketClosedEvent":
		return WebSocketClosedEvent{GuildID: msg.GuildID, Code: msg.Code, Reason: msg.Reason, ByRemote: msg.ByRemote}, true
	}
	return nil, false
}
