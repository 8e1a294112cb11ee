package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guildtunes/internal/models"
)

// GetGuildSettings returns the stored settings, or the defaults for a guild
// that never saved any.
func (s *Store) GetGuildSettings(ctx context.Context, guildID string) (models.GuildSettings, error) {
	gs := models.DefaultGuildSettings()
	err := s.db.QueryRowContext(ctx, `SELECT vote_skip_enabled, vote_skip_percentage, dj_only, dj_role_id,
		autoplay, stay_connected, default_volume, announce_now_playing
		FROM guild_settings WHERE guild_id = ?`, guildID).Scan(
		&gs.VoteSkipEnabled, &gs.VoteSkipPercentage, &gs.DJOnly, &gs.DJRoleID,
		&gs.Autoplay, &gs.StayConnected, &gs.DefaultVolume, &gs.AnnounceNowPlaying)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultGuildSettings(), nil
	}
	if err != nil {
		return gs, fmt.Errorf("getting guild settings: %w", err)
	}
	return gs, nil
}

func (s *Store) SaveGuildSettings(ctx context.Context, guildID string, gs models.GuildSettings) error {
	if err := gs.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO guild_settings (guild_id, vote_skip_enabled, vote_skip_percentage,
		dj_only, dj_role_id, autoplay, stay_connected, default_volume, announce_now_playing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(guild_id) DO UPDATE SET
			vote_skip_enabled = excluded.vote_skip_enabled,
			vote_skip_percentage = excluded.vote_skip_percentage,
			dj_only = excluded.dj_only,
			dj_role_id = excluded.dj_role_id,
			autoplay = excluded.autoplay,
			stay_connected = excluded.stay_connected,
			default_volume = excluded.default_volume,
			announce_now_playing = excluded.announce_now_playing,
			updated_at = excluded.updated_at`,
		guildID, gs.VoteSkipEnabled, gs.VoteSkipPercentage, gs.DJOnly, gs.DJRoleID,
		gs.Autoplay, gs.StayConnected, gs.DefaultVolume, gs.AnnounceNowPlaying)
	if err != nil {
		return fmt.Errorf("saving guild settings: %w", err)
	}
	return nil
}

func (s *Store) DeleteGuildSettings(ctx context.Context, guildID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM guild_settings WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("deleting guild settings: %w", err)
	}
	return nil
}
