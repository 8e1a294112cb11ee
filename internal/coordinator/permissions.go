package coordinator

import "guildtunes/internal/models"

// RequiredVotes is the number of skip votes needed among listeners, never
// less than one.
func RequiredVotes(listeners, percentage int) int {
	return max(1, (listeners*percentage+99)/100)
}

// HasDJPermission reports whether m may use DJ-gated controls under gs.
func HasDJPermission(m models.Member, gs models.GuildSettings) bool {
	if m.IsAdmin || m.ManageGuild {
		return true
	}
	if !gs.DJOnly || gs.DJRoleID == "" {
		return true
	}
	return m.HasRole(gs.DJRoleID)
}

// CanForceSkip reports whether m skips without a vote: guild managers and
// holders of the DJ role, whether or not DJ-only mode is on.
func CanForceSkip(m models.Member, gs models.GuildSettings) bool {
	if m.IsAdmin || m.ManageGuild {
		return true
	}
	return gs.DJRoleID != "" && m.HasRole(gs.DJRoleID)
}
