package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"guildtunes/internal/lavalink"
	"guildtunes/internal/models"
)

type PlayRequest struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Query          string
	Requester      models.Requester
}

type PlayResult struct {
	Tracks   []models.Track
	Playlist string
	// Started is set when the first added track began playing right away.
	Started bool
	// Position is the pending index of the first added track.
	Position int
}

type VoteResult struct {
	Skipped      bool
	Votes        int
	Required     int
	AlreadyVoted bool
}

// Play resolves the query on a node, joins the requester's channel when
// needed and enqueues the results.
func (c *Coordinator) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	if req.VoiceChannelID == "" {
		return nil, models.ErrNotInVoice
	}
	var res *PlayResult
	err := c.exec(ctx, req.GuildID, true, func(ctx context.Context, g *guild) error {
		var err error
		res, err = g.play(ctx, req)
		return err
	})
	return res, err
}

func (g *guild) play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	if ch, ok := g.c.voice.ChannelID(g.id); ok && ch != req.VoiceChannelID && !g.queue.Idle() {
		return nil, models.ErrOtherChannel
	}
	node := g.node
	if node == nil {
		var err error
		if node, err = g.c.nodes.Select(); err != nil {
			g.releaseIfIdle(nil)
			return nil, err
		}
	}

	tracks, playlist, err := g.c.search(ctx, node, req.Query)
	if err != nil {
		g.releaseIfIdle(nil)
		return nil, err
	}

	if err := g.c.voice.Connect(ctx, g.id, req.VoiceChannelID, node); err != nil {
		if errors.Is(err, models.ErrVoiceConnectInProgress) {
			g.releaseIfIdle(nil)
		} else {
			g.releaseIfIdle(node)
		}
		return nil, fmt.Errorf("joining voice: %w", err)
	}
	g.node = node
	g.queue.VoiceChannelID = req.VoiceChannelID
	if req.TextChannelID != "" {
		g.queue.TextChannelID = req.TextChannelID
	}

	res := &PlayResult{Tracks: tracks, Playlist: playlist, Position: g.queue.Len()}
	g.queue.AddMany(tracks, req.Requester)
	if g.queue.Current() != nil {
		g.publish()
		return res, nil
	}
	g.queue.Next()
	if err := g.playCurrent(ctx); err != nil {
		return res, err
	}
	res.Started = true
	return res, nil
}

// releaseIfIdle drops a guild actor created for a request that failed
// before anything was queued.
func (g *guild) releaseIfIdle(joined Node) {
	if g.queue.Idle() && g.node == nil {
		g.release(joined)
	}
}

// search loads tracks for user input. Search results yield only the best
// match; playlists yield every track.
func (c *Coordinator) search(ctx context.Context, node Node, query string) ([]models.Track, string, error) {
	res, err := node.LoadTracks(ctx, lavalink.SearchIdentifier(c.searchPrefix, query))
	if err != nil {
		return nil, "", &models.SearchError{Query: query, Err: err}
	}
	switch res.LoadType {
	case lavalink.LoadError:
		msg := "load failed"
		if res.Exception != nil {
			msg = res.Exception.Message
		}
		return nil, "", &models.SearchError{Query: query, Err: errors.New(msg)}
	case lavalink.LoadPlaylist:
		if len(res.Tracks) > 0 {
			name := ""
			if res.Playlist != nil {
				name = res.Playlist.Name
			}
			return res.Tracks, name, nil
		}
	default:
		if len(res.Tracks) > 0 {
			return res.Tracks[:1], "", nil
		}
	}
	return nil, "", &models.SearchError{Query: query, Err: models.ErrNoResults}
}

// Skip casts userID's skip vote. It skips immediately when vote skipping is
// off or CanForceSkip holds: an admin, a manage-guild holder or a DJ role
// holder. DJ-only mode being off does not bypass the vote.
func (c *Coordinator) Skip(ctx context.Context, guildID, userID string) (VoteResult, error) {
	var res VoteResult
	err := c.exec(ctx, guildID, false, func(ctx context.Context, g *guild) error {
		if g.queue.Current() == nil {
			return models.ErrNothingPlaying
		}
		if g.settings.VoteSkipEnabled {
			m, err := c.dir.Member(ctx, g.id, userID)
			if err != nil {
				return fmt.Errorf("looking up member: %w", err)
			}
			if !CanForceSkip(m, g.settings) {
				return g.vote(ctx, userID, &res)
			}
		}
		res.Skipped = true
		return g.skip(ctx)
	})
	return res, err
}

func (g *guild) vote(ctx context.Context, userID string, res *VoteResult) error {
	listeners := g.c.dir.Listeners(g.id, g.queue.VoiceChannelID)
	res.Required = RequiredVotes(listeners, g.settings.VoteSkipPercentage)
	if !g.queue.AddVote(userID) {
		res.AlreadyVoted = true
		res.Votes = g.queue.VoteCount()
		return nil
	}
	res.Votes = g.queue.VoteCount()
	if res.Votes < res.Required {
		return nil
	}
	slog.Info("vote skip passed", "guild", g.id, "votes", res.Votes, "required", res.Required)
	res.Skipped = true
	return g.skip(ctx)
}

// checkDJ enforces DJ-only mode. The member lookup is skipped when the mode
// cannot reject anyone.
func (c *Coordinator) checkDJ(ctx context.Context, guildID, userID string, gs models.GuildSettings) error {
	if !gs.DJOnly || gs.DJRoleID == "" {
		return nil
	}
	m, err := c.dir.Member(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("looking up member: %w", err)
	}
	if !HasDJPermission(m, gs) {
		return models.ErrNotDJ
	}
	return nil
}

// control runs a DJ-gated operation against a guild with a bound node.
func (c *Coordinator) control(ctx context.Context, guildID, userID string, fn func(ctx context.Context, g *guild) error) error {
	return c.exec(ctx, guildID, false, func(ctx context.Context, g *guild) error {
		if err := c.checkDJ(ctx, g.id, userID, g.settings); err != nil {
			return err
		}
		if g.node == nil {
			return models.ErrNotInVoice
		}
		return fn(ctx, g)
	})
}

func (c *Coordinator) ForceSkip(ctx context.Context, guildID, userID string) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		if g.queue.Current() == nil {
			return models.ErrNothingPlaying
		}
		return g.skip(ctx)
	})
}

// SkipTo jumps to the pending entry at index, dropping the ones before it.
func (c *Coordinator) SkipTo(ctx context.Context, guildID, userID string, index int) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		if index < 0 || index >= g.queue.Len() {
			return models.ErrInvalidIndex
		}
		g.queue.ClearVotes()
		g.withoutTrackLoop(func() { g.queue.SkipTo(index) })
		return g.playCurrent(ctx)
	})
}

// Previous replays the entry that played before the current one.
func (c *Coordinator) Previous(ctx context.Context, guildID, userID string) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		if g.queue.Back() == nil {
			return fmt.Errorf("previous track: %w", models.ErrNotFound)
		}
		g.queue.ClearVotes()
		return g.playCurrent(ctx)
	})
}

// Stop clears the queue and stops playback. The bot stays in the channel
// until the idle timer fires.
func (c *Coordinator) Stop(ctx context.Context, guildID, userID string) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		g.queue.Stop()
		g.paused, g.position = false, 0
		err := g.node.Stop(ctx, g.id)
		g.publish()
		if !g.settings.StayConnected {
			g.armIdle()
		}
		return err
	})
}

func (c *Coordinator) Pause(ctx context.Context, guildID, userID string) error {
	return c.setPaused(ctx, guildID, userID, true)
}

func (c *Coordinator) Resume(ctx context.Context, guildID, userID string) error {
	return c.setPaused(ctx, guildID, userID, false)
}

func (c *Coordinator) setPaused(ctx context.Context, guildID, userID string, paused bool) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		if g.queue.Current() == nil {
			return models.ErrNothingPlaying
		}
		if err := g.node.Pause(ctx, g.id, paused); err != nil {
			return err
		}
		g.paused = paused
		g.publish()
		return nil
	})
}

// Seek moves playback to position milliseconds, clamped to the track.
func (c *Coordinator) Seek(ctx context.Context, guildID, userID string, position int64) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		cur := g.queue.Current()
		if cur == nil {
			return models.ErrNothingPlaying
		}
		if !cur.Track.Info.IsSeekable || cur.Track.Info.IsStream {
			return models.ErrNotSeekable
		}
		position = min(max(position, 0), cur.Track.Info.Length)
		if err := g.node.Seek(ctx, g.id, position); err != nil {
			return err
		}
		g.position = position
		g.publish()
		return nil
	})
}

// SetVolume clamps and applies a volume, returning the stored value.
func (c *Coordinator) SetVolume(ctx context.Context, guildID, userID string, volume int) (int, error) {
	var applied int
	err := c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		applied = g.queue.SetVolume(volume)
		if g.queue.Current() != nil {
			if err := g.node.SetVolume(ctx, g.id, applied); err != nil {
				return err
			}
		}
		g.publish()
		return nil
	})
	return applied, err
}

func (c *Coordinator) SetLoop(ctx context.Context, guildID, userID string, mode models.LoopMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid loop mode %q", mode)
	}
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		g.queue.SetLoop(mode)
		g.publish()
		return nil
	})
}

func (c *Coordinator) Shuffle(ctx context.Context, guildID, userID string) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		g.queue.Shuffle()
		g.publish()
		return nil
	})
}

func (c *Coordinator) Remove(ctx context.Context, guildID, userID string, index int) (models.QueueEntry, error) {
	var removed models.QueueEntry
	err := c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		e, ok := g.queue.Remove(index)
		if !ok {
			return models.ErrInvalidIndex
		}
		removed = e
		g.publish()
		return nil
	})
	return removed, err
}

func (c *Coordinator) Move(ctx context.Context, guildID, userID string, from, to int) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		if !g.queue.Move(from, to) {
			return models.ErrInvalidIndex
		}
		g.publish()
		return nil
	})
}

// Clear drops pending entries and keeps the current one playing.
func (c *Coordinator) Clear(ctx context.Context, guildID, userID string) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		g.queue.Clear()
		g.publish()
		return nil
	})
}

func (c *Coordinator) SetFilters(ctx context.Context, guildID, userID string, filters lavalink.Filters) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		return g.node.SetFilters(ctx, g.id, filters)
	})
}

func (c *Coordinator) ClearFilters(ctx context.Context, guildID, userID string) error {
	return c.control(ctx, guildID, userID, func(ctx context.Context, g *guild) error {
		return g.node.ClearFilters(ctx, g.id)
	})
}

// Disconnect leaves voice and drops the guild's queue. A connect still in
// flight is aborted first so the request does not wait behind it.
func (c *Coordinator) Disconnect(ctx context.Context, guildID, userID string) error {
	g := c.lookup(guildID, false)
	if g == nil {
		return models.ErrNotInVoice
	}
	if err := c.checkDJ(ctx, guildID, userID, g.snapshot.Load().Settings); err != nil {
		return err
	}
	c.voice.Forget(guildID)
	err := c.exec(ctx, guildID, false, func(ctx context.Context, g *guild) error {
		g.teardown(ctx)
		return nil
	})
	if errors.Is(err, models.ErrNotInVoice) {
		// The aborted connect already left voice and retired the guild.
		return nil
	}
	return err
}

// History returns the guild's in-memory play history, newest first.
func (c *Coordinator) History(ctx context.Context, guildID string) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	err := c.exec(ctx, guildID, false, func(ctx context.Context, g *guild) error {
		out = g.queue.History()
		return nil
	})
	if errors.Is(err, models.ErrNotInVoice) {
		return []models.HistoryEntry{}, nil
	}
	return out, err
}

// UpdateSettings stores new guild settings and applies them to a live
// player. Only administrators and guild managers may change them.
func (c *Coordinator) UpdateSettings(ctx context.Context, guildID, userID string, gs models.GuildSettings) error {
	if err := gs.Validate(); err != nil {
		return err
	}
	m, err := c.dir.Member(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("looking up member: %w", err)
	}
	if !m.IsAdmin && !m.ManageGuild {
		return models.ErrNotManager
	}
	if c.store != nil {
		if err := c.store.SaveGuildSettings(ctx, guildID, gs); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
	}
	err = c.exec(ctx, guildID, false, func(ctx context.Context, g *guild) error {
		g.settings = gs
		switch {
		case gs.StayConnected:
			g.stopIdle()
		case g.queue.Idle() && g.idle == nil:
			g.armIdle()
		}
		g.publish()
		return nil
	})
	if errors.Is(err, models.ErrNotInVoice) {
		return nil
	}
	return err
}
