package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guildtunes/internal/models"
)

const (
	DefaultPlaysLimit = 50
	MaxPlaysLimit     = 500
)

const playColumns = `id, guild_id, identifier, title, author, uri, length_ms, source_name,
	requester_id, requester_name, played_at`

func scanPlay(scanner interface{ Scan(...any) error }) (models.PlayRecord, error) {
	var p models.PlayRecord
	err := scanner.Scan(&p.ID, &p.GuildID, &p.Identifier, &p.Title, &p.Author, &p.URI, &p.LengthMs,
		&p.SourceName, &p.Requester.ID, &p.Requester.Name, &p.PlayedAt)
	return p, err
}

func (s *Store) InsertPlay(ctx context.Context, p *models.PlayRecord) error {
	if p.PlayedAt.IsZero() {
		p.PlayedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO play_history (guild_id, identifier, title, author, uri,
		length_ms, source_name, requester_id, requester_name, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.GuildID, p.Identifier, p.Title, p.Author, p.URI, p.LengthMs, p.SourceName,
		p.Requester.ID, p.Requester.Name, p.PlayedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting play: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

type PlayFilter struct {
	Search string
	Limit  int
}

// ListPlays returns a guild's plays, most recent first. Search matches
// title or author.
func (s *Store) ListPlays(ctx context.Context, guildID string, f PlayFilter) ([]models.PlayRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPlaysLimit
	}
	if limit > MaxPlaysLimit {
		limit = MaxPlaysLimit
	}

	query := `SELECT ` + playColumns + ` FROM play_history WHERE guild_id = ?`
	args := []any{guildID}
	if f.Search != "" {
		pattern := "%" + escapeLikePattern(f.Search) + "%"
		query += ` AND (title LIKE ? ESCAPE '\' OR author LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY played_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing plays: %w", err)
	}
	defer rows.Close()

	plays := []models.PlayRecord{}
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning play: %w", err)
		}
		plays = append(plays, p)
	}
	return plays, rows.Err()
}

// PrunePlays deletes plays older than before and reports how many went.
func (s *Store) PrunePlays(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM play_history WHERE played_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning plays: %w", err)
	}
	return res.RowsAffected()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePattern escapes LIKE wildcards for use with ESCAPE '\'.
func escapeLikePattern(s string) string {
	return likeEscaper.Replace(s)
}
