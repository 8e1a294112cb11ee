// Package discord adapts a discordgo session to the voice handshake and the
// coordinator's directory and announcer.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"guildtunes/internal/voice"
)

// Intents the bot needs: guild metadata, members for role lookups and voice
// states for listener counts.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildVoiceStates

// VoiceHandler receives the bot's own voice updates.
type VoiceHandler interface {
	HandleStateUpdate(guildID, channelID, sessionID string)
	HandleServerUpdate(guildID, token, endpoint string)
}

type Adapter struct {
	s *discordgo.Session
}

// New opens a session for token. The session is not connected until Open.
func New(token string) (*Adapter, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	return &Adapter{s: s}, nil
}

// FromSession wraps an existing session.
func FromSession(s *discordgo.Session) *Adapter {
	return &Adapter{s: s}
}

func (a *Adapter) Session() *discordgo.Session { return a.s }

// Open connects to the gateway and waits for READY. It returns the bot's
// user id.
func (a *Adapter) Open(ctx context.Context) (string, error) {
	ready := make(chan string, 1)
	remove := a.s.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		ready <- r.User.ID
	})
	if err := a.s.Open(); err != nil {
		remove()
		return "", fmt.Errorf("opening discord gateway: %w", err)
	}
	select {
	case id := <-ready:
		return id, nil
	case <-ctx.Done():
		remove()
		a.s.Close()
		return "", fmt.Errorf("waiting for discord ready: %w", ctx.Err())
	}
}

func (a *Adapter) Close() error {
	return a.s.Close()
}

// BotID is the bot's own user id, known once the gateway is ready.
func (a *Adapter) BotID() string {
	if a.s.State == nil || a.s.State.User == nil {
		return ""
	}
	return a.s.State.User.ID
}

// Bind routes the bot's own voice updates to h. The returned func removes
// the handlers.
func (a *Adapter) Bind(h VoiceHandler) func() {
	removeState := a.s.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		a.onVoiceState(h, e)
	})
	removeServer := a.s.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
		a.onVoiceServer(h, e)
	})
	removeReady := a.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	return func() {
		removeState()
		removeServer()
		removeReady()
	}
}

func (a *Adapter) onVoiceState(h VoiceHandler, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || e.UserID == "" || e.UserID != a.BotID() {
		return
	}
	slog.Debug("bot voice state", "guild", e.GuildID, "channel", e.ChannelID)
	h.HandleStateUpdate(e.GuildID, e.ChannelID, e.SessionID)
}

func (a *Adapter) onVoiceServer(h VoiceHandler, e *discordgo.VoiceServerUpdate) {
	slog.Debug("voice server update", "guild", e.GuildID, "endpoint", e.Endpoint)
	h.HandleServerUpdate(e.GuildID, e.Token, e.Endpoint)
}

// JoinVoice asks the gateway to move the bot into channelID. Audio is sent
// by the node, so the bot joins deafened and never opens its own voice
// connection.
func (a *Adapter) JoinVoice(ctx context.Context, guildID, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.s.ChannelVoiceJoinManual(guildID, channelID, false, true); err != nil {
		return fmt.Errorf("joining voice channel %s: %w", channelID, err)
	}
	return nil
}

func (a *Adapter) LeaveVoice(ctx context.Context, guildID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.s.ChannelVoiceJoinManual(guildID, "", false, true); err != nil {
		return fmt.Errorf("leaving voice: %w", err)
	}
	return nil
}

var _ voice.Signaler = (*Adapter)(nil)
