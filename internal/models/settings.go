package models

import "errors"

const (
	DefaultVoteSkipPercentage = 50
	DefaultVolume             = 100
	MaxVolume                 = 1000
)

// GuildSettings are the per-guild knobs the coordinator consults.
type GuildSettings struct {
	VoteSkipEnabled    bool   `json:"voteSkipEnabled"`
	VoteSkipPercentage int    `json:"voteSkipPercentage"`
	DJOnly             bool   `json:"djOnly"`
	DJRoleID           string `json:"djRoleId"`
	Autoplay           bool   `json:"autoplay"`
	StayConnected      bool   `json:"stayConnected"`
	DefaultVolume      int    `json:"defaultVolume"`
	AnnounceNowPlaying bool   `json:"announceNowPlaying"`
}

func DefaultGuildSettings() GuildSettings {
	return GuildSettings{
		VoteSkipEnabled:    true,
		VoteSkipPercentage: DefaultVoteSkipPercentage,
		DefaultVolume:      DefaultVolume,
		AnnounceNowPlaying: true,
	}
}

func (s *GuildSettings) Validate() error {
	if s.VoteSkipPercentage < 1 || s.VoteSkipPercentage > 100 {
		return errors.New("voteSkipPercentage must be between 1 and 100")
	}
	if s.DefaultVolume < 0 || s.DefaultVolume > MaxVolume {
		return errors.New("defaultVolume must be between 0 and 1000")
	}
	return nil
}

// Member is the subset of guild membership the coordinator needs for
// permission checks.
type Member struct {
	UserID      string
	Roles       []string
	IsAdmin     bool
	ManageGuild bool
	Bot         bool
}

func (m Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}
