package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"guildtunes/internal/models"
)

// Listeners counts the non-bot users in channelID using cached voice states.
func (a *Adapter) Listeners(guildID, channelID string) int {
	guild, err := a.s.State.Guild(guildID)
	if err != nil {
		return 0
	}
	return countListeners(guild, channelID, a.BotID(), func(userID string) *discordgo.Member {
		m, err := a.s.State.Member(guildID, userID)
		if err != nil {
			return nil
		}
		return m
	})
}

func countListeners(guild *discordgo.Guild, channelID, botID string, member func(string) *discordgo.Member) int {
	n := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		m := vs.Member
		if m == nil || m.User == nil {
			m = member(vs.UserID)
		}
		if m != nil && m.User != nil && m.User.Bot {
			continue
		}
		n++
	}
	return n
}

// Member resolves userID's roles and guild-wide permissions, preferring the
// state cache over REST.
func (a *Adapter) Member(ctx context.Context, guildID, userID string) (models.Member, error) {
	guild, err := a.s.State.Guild(guildID)
	if err != nil {
		guild, err = a.s.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return models.Member{}, fmt.Errorf("fetching guild %s: %w", guildID, err)
		}
	}
	m, err := a.s.State.Member(guildID, userID)
	if err != nil {
		m, err = a.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return models.Member{}, fmt.Errorf("fetching member %s: %w", userID, err)
		}
	}
	return toMember(guild, m), nil
}

// toMember folds the @everyone role and the member's roles into the
// permission flags. The owner is always an admin.
func toMember(guild *discordgo.Guild, m *discordgo.Member) models.Member {
	out := models.Member{Roles: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Bot = m.User.Bot
	}

	held := make(map[string]bool, len(m.Roles)+1)
	held[guild.ID] = true
	for _, id := range m.Roles {
		held[id] = true
	}
	var perms int64
	for _, r := range guild.Roles {
		if held[r.ID] {
			perms |= r.Permissions
		}
	}

	out.IsAdmin = perms&discordgo.PermissionAdministrator != 0 || (out.UserID != "" && out.UserID == guild.OwnerID)
	out.ManageGuild = out.IsAdmin || perms&discordgo.PermissionManageGuild != 0
	return out
}
