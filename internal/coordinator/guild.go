package coordinator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"guildtunes/internal/httputil"
	"guildtunes/internal/lavalink"
	"guildtunes/internal/models"
	"guildtunes/internal/queue"
)

// guild is one guild's actor. Fields below inbox are owned by the actor
// goroutine; snapshot is the only one read from outside.
type guild struct {
	id     string
	c      *Coordinator
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	done   chan struct{}

	queue    *queue.Queue
	node     Node
	settings models.GuildSettings
	paused   bool
	position int64
	idle     *time.Timer
	idleSeq  uint64

	snapshot atomic.Pointer[models.PlayerSnapshot]
}

func newGuild(c *Coordinator, id string) *guild {
	g := &guild{
		id:       id,
		c:        c,
		inbox:    make(chan func(), mailboxSize),
		done:     make(chan struct{}),
		settings: models.DefaultGuildSettings(),
	}
	g.ctx, g.cancel = context.WithCancel(c.ctx)
	g.queue = queue.New(g.settings.DefaultVolume)
	empty := models.EmptySnapshot(id, g.settings)
	g.snapshot.Store(&empty)
	return g
}

func (g *guild) run() {
	defer close(g.done)
	defer g.stopIdle()

	g.loadSettings()
	for {
		if g.ctx.Err() != nil {
			return
		}
		select {
		case fn := <-g.inbox:
			fn()
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *guild) loadSettings() {
	if g.c.store == nil {
		return
	}
	ctx, cancel := g.callCtx()
	defer cancel()
	gs, err := g.c.store.GetGuildSettings(ctx, g.id)
	if err != nil {
		slog.Warn("loading guild settings, using defaults", "guild", g.id, "error", err)
		return
	}
	g.settings = gs
	g.queue.SetVolume(gs.DefaultVolume)
	g.refresh()
}

func (g *guild) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(g.ctx, g.c.callTimeout)
}

func (g *guild) build() models.PlayerSnapshot {
	s := models.PlayerSnapshot{
		GuildID:  g.id,
		Paused:   g.paused,
		Queue:    make([]models.SnapshotTrack, 0, g.queue.Len()),
		Volume:   g.queue.Volume(),
		LoopMode: g.queue.Loop(),
		Settings: g.settings,
	}
	if cur := g.queue.Current(); cur != nil {
		t := models.NewSnapshotTrack(*cur)
		s.Current = &t
		s.Playing = !g.paused
		s.Position = g.position
	}
	for _, e := range g.queue.Entries() {
		s.Queue = append(s.Queue, models.NewSnapshotTrack(e))
	}
	return s
}

// refresh rebuilds the cached snapshot without notifying subscribers.
func (g *guild) refresh() models.PlayerSnapshot {
	s := g.build()
	g.snapshot.Store(&s)
	return s
}

func (g *guild) publish() {
	g.c.broadcast(g.refresh())
}

// withoutTrackLoop runs fn with track looping suspended so the queue moves
// past the current entry.
func (g *guild) withoutTrackLoop(fn func()) {
	mode := g.queue.Loop()
	if mode == models.LoopTrack {
		g.queue.SetLoop(models.LoopNone)
		defer g.queue.SetLoop(mode)
	}
	fn()
}

// playCurrent starts the queue's current entry on the bound node.
func (g *guild) playCurrent(ctx context.Context) error {
	cur := g.queue.Current()
	if cur == nil {
		return models.ErrNothingPlaying
	}
	if g.node == nil {
		return models.ErrNotInVoice
	}
	vol := g.queue.Volume()
	g.stopIdle()
	g.paused, g.position = false, 0
	if err := g.node.Play(ctx, g.id, cur.Track, lavalink.PlayOptions{Volume: &vol}); err != nil {
		// The entry never started, so it leaves the queue and the guild
		// goes idle until the next request.
		g.c.metrics.IncTrackError("play")
		g.queue.Drop()
		g.publish()
		if !g.settings.StayConnected {
			g.armIdle()
		}
		return err
	}
	g.publish()
	return nil
}

// advance moves to the next entry and plays it. An exhausted queue either
// autoplays or arms the idle timer. pastLoop moves on even under track
// looping.
func (g *guild) advance(ctx context.Context, pastLoop bool) error {
	var next *models.QueueEntry
	if pastLoop {
		g.withoutTrackLoop(func() { next = g.queue.Next() })
	} else {
		next = g.queue.Next()
	}
	if next != nil {
		return g.playCurrent(ctx)
	}
	g.paused, g.position = false, 0
	g.publish()
	g.drained(ctx)
	return nil
}

func (g *guild) drained(ctx context.Context) {
	if g.settings.Autoplay && g.queue.Previous() != nil {
		err := g.autoplay(ctx)
		if err == nil {
			return
		}
		slog.Info("autoplay found nothing to play", "guild", g.id, "error", err)
	}
	if !g.settings.StayConnected {
		g.armIdle()
	}
}

// skip moves past the current entry regardless of track looping.
func (g *guild) skip(ctx context.Context) error {
	g.queue.ClearVotes()
	var next *models.QueueEntry
	g.withoutTrackLoop(func() { next = g.queue.Next() })
	if next != nil {
		return g.playCurrent(ctx)
	}
	if err := g.node.Stop(ctx, g.id); err != nil {
		slog.Debug("stopping player", "guild", g.id, "error", err)
	}
	g.paused, g.position = false, 0
	g.publish()
	g.drained(ctx)
	return nil
}

func (g *guild) armIdle() {
	g.stopIdle()
	seq := g.idleSeq
	g.idle = time.AfterFunc(g.c.idleTimeout, func() {
		select {
		case g.inbox <- func() { g.onIdle(seq) }:
		case <-g.done:
		}
	})
}

// stopIdle cancels the idle timer. Bumping the sequence also voids a timer
// that already fired and is waiting in the inbox.
func (g *guild) stopIdle() {
	if g.idle != nil {
		g.idle.Stop()
		g.idle = nil
	}
	g.idleSeq++
}

func (g *guild) onIdle(seq uint64) {
	if seq != g.idleSeq || !g.queue.Idle() {
		return
	}
	slog.Info("leaving idle guild", "guild", g.id, "after", g.c.idleTimeout)
	ctx, cancel := g.callCtx()
	defer cancel()
	g.teardown(ctx)
}

// teardown leaves voice, destroys the node player and retires the actor.
// Subscribers get an empty snapshot.
func (g *guild) teardown(ctx context.Context) {
	g.stopIdle()
	g.c.voice.Disconnect(ctx, g.id, g.node)
	g.queue.Stop()
	g.node = nil
	g.paused, g.position = false, 0
	empty := models.EmptySnapshot(g.id, g.settings)
	g.snapshot.Store(&empty)
	g.c.broadcast(empty)
	g.c.retire(g)
}

// release retires a guild whose request failed before anything was queued.
// A non-nil joined is the node a voice join was started for; the bot then
// leaves the channel and joined drops its player.
func (g *guild) release(joined Node) {
	g.stopIdle()
	if joined != nil {
		ctx, cancel := g.callCtx()
		g.c.voice.Disconnect(ctx, g.id, joined)
		cancel()
	} else {
		g.c.voice.Forget(g.id)
	}
	g.node = nil
	g.c.retire(g)
}

func (g *guild) persistPlay(entry models.QueueEntry) {
	if g.c.store == nil {
		return
	}
	rec := models.NewPlayRecord(g.id, entry, time.Now())
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), httputil.DefaultTimeout)
		defer cancel()
		if err := g.c.store.InsertPlay(ctx, rec); err != nil {
			slog.Error("persisting play", "guild", rec.GuildID, "title", rec.Title, "error", err)
		}
	}()
}

func (g *guild) announce(entry models.QueueEntry) {
	channel := g.queue.TextChannelID
	if g.c.announcer == nil || !g.settings.AnnounceNowPlaying || channel == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), httputil.DefaultTimeout)
		defer cancel()
		if err := g.c.announcer.NowPlaying(ctx, g.id, channel, entry); err != nil {
			slog.Warn("announcing now playing", "guild", g.id, "channel", channel, "error", err)
		}
	}()
}

// isCurrent reports whether an event's track is the entry the queue is on.
// Events for tracks already moved past are stale.
func (g *guild) isCurrent(t models.Track) bool {
	cur := g.queue.Current()
	return cur != nil && cur.Track.Encoded == t.Encoded
}

func (g *guild) onTrackStart(ev lavalink.TrackStartEvent) {
	g.queue.ClearVotes()
	g.stopIdle()
	g.paused, g.position = false, 0
	g.c.metrics.IncTracksStarted()
	g.publish()
	if g.isCurrent(ev.Track) {
		g.announce(*g.queue.Current())
	}
}

func (g *guild) onTrackEnd(ev lavalink.TrackEndEvent) {
	g.c.metrics.IncTrackEnd(string(ev.Reason))
	if !g.isCurrent(ev.Track) {
		g.publish()
		return
	}
	switch ev.Reason {
	case models.EndReplaced, models.EndStopped:
		g.publish()
		return
	case models.EndFinished:
		cur := *g.queue.Current()
		g.queue.AddToHistory(cur)
		g.persistPlay(cur)
	}
	ctx, cancel := g.callCtx()
	defer cancel()
	if err := g.advance(ctx, false); err != nil {
		slog.Error("advancing queue", "guild", g.id, "error", err)
	}
}

func (g *guild) onTrackException(ev lavalink.TrackExceptionEvent) {
	slog.Warn("track failed", "guild", g.id, "title", ev.Track.Info.Title,
		"message", ev.Exception.Message, "severity", ev.Exception.Severity, "cause", ev.Exception.Cause)
	g.c.metrics.IncTrackError("exception")
	g.skipErrored(ev.Track)
}

func (g *guild) onTrackStuck(ev lavalink.TrackStuckEvent) {
	slog.Warn("track stuck", "guild", g.id, "title", ev.Track.Info.Title, "threshold_ms", ev.ThresholdMs)
	g.c.metrics.IncTrackError("stuck")
	g.skipErrored(ev.Track)
}

// skipErrored advances past a track the node could not play. Track looping
// does not apply to it.
func (g *guild) skipErrored(t models.Track) {
	if !g.isCurrent(t) {
		return
	}
	ctx, cancel := g.callCtx()
	defer cancel()
	if err := g.advance(ctx, true); err != nil {
		slog.Error("advancing past failed track", "guild", g.id, "error", err)
	}
}

func (g *guild) onWebSocketClosed(ev lavalink.WebSocketClosedEvent) {
	if !ev.ByRemote {
		slog.Debug("voice socket closed", "guild", g.id, "code", ev.Code, "reason", ev.Reason)
		return
	}
	slog.Warn("voice socket closed by discord", "guild", g.id, "code", ev.Code, "reason", ev.Reason)
	ctx, cancel := g.callCtx()
	defer cancel()
	g.teardown(ctx)
}

func (g *guild) onPlayerUpdate(ev lavalink.PlayerUpdateEvent) {
	if g.queue.Current() == nil {
		return
	}
	g.position = ev.State.Position
	g.publish()
}
