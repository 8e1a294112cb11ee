package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildtunes/internal/models"
	"guildtunes/internal/units"
)

const (
	embedColor     = 0x1DB954
	maxTitleLength = 200
)

// NowPlaying posts the now-playing embed for e into channelID.
func (a *Adapter) NowPlaying(ctx context.Context, guildID, channelID string, e models.QueueEntry) error {
	if _, err := a.s.ChannelMessageSendEmbed(channelID, NowPlayingEmbed(e), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending now playing to %s: %w", channelID, err)
	}
	return nil
}

func NowPlayingEmbed(e models.QueueEntry) *discordgo.MessageEmbed {
	info := e.Track.Info
	title := truncate(info.Title, maxTitleLength)
	desc := title
	if info.URI != "" {
		desc = fmt.Sprintf("[%s](%s)", escapeMarkdown(title), info.URI)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Now playing",
		Description: desc,
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Author", Value: orDash(info.Author), Inline: true},
			{Name: "Length", Value: units.FormatLength(info.Length, info.IsStream), Inline: true},
		},
	}
	if e.Requester == models.AutoplayRequester {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Autoplay"}
	} else if e.Requester.ID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Requested by", Value: "<@" + e.Requester.ID + ">", Inline: true,
		})
	}
	if info.ArtworkURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: info.ArtworkURL}
	}
	return embed
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var markdownEscaper = strings.NewReplacer("[", "\\[", "]", "\\]", "*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
