// Package coordinator keeps every guild's queue, voice session and player
// snapshot consistent with the events audio nodes push back. Each guild is
// an actor: user operations and node events for it run one at a time on its
// own goroutine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"guildtunes/internal/httputil"
	"guildtunes/internal/lavalink"
	"guildtunes/internal/metrics"
	"guildtunes/internal/models"
	"guildtunes/internal/pool"
	"guildtunes/internal/voice"
)

const (
	DefaultIdleTimeout = 30 * time.Second
	mailboxSize        = 64
)

var errStopped = errors.New("coordinator stopped")

// Node is the control surface of an audio node.
type Node interface {
	voice.Node
	Name() string
	LoadTracks(ctx context.Context, identifier string) (*lavalink.LoadResult, error)
	Play(ctx context.Context, guildID string, track models.Track, opts lavalink.PlayOptions) error
	Stop(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string, paused bool) error
	Seek(ctx context.Context, guildID string, position int64) error
	SetVolume(ctx context.Context, guildID string, volume int) error
	SetFilters(ctx context.Context, guildID string, filters lavalink.Filters) error
	ClearFilters(ctx context.Context, guildID string) error
}

// Nodes picks the node a newly created player is bound to.
type Nodes interface {
	Select() (Node, error)
}

// Directory answers questions about guild membership.
type Directory interface {
	// Listeners counts the non-bot members in a voice channel.
	Listeners(guildID, channelID string) int
	Member(ctx context.Context, guildID, userID string) (models.Member, error)
}

// Announcer posts a now playing message to a text channel.
type Announcer interface {
	NowPlaying(ctx context.Context, guildID, channelID string, entry models.QueueEntry) error
}

// Store persists guild settings and finished plays.
type Store interface {
	GetGuildSettings(ctx context.Context, guildID string) (models.GuildSettings, error)
	SaveGuildSettings(ctx context.Context, guildID string, gs models.GuildSettings) error
	InsertPlay(ctx context.Context, p *models.PlayRecord) error
}

type poolNodes[W interface {
	Node
	pool.Worker
}] struct {
	p *pool.Pool[W]
}

func (n poolNodes[W]) Select() (Node, error) {
	w, err := n.p.Select()
	if err != nil {
		return nil, err
	}
	return w, nil
}

// FromPool exposes a worker pool as the coordinator's node selector.
func FromPool[W interface {
	Node
	pool.Worker
}](p *pool.Pool[W]) Nodes {
	return poolNodes[W]{p: p}
}

type Coordinator struct {
	nodes     Nodes
	voice     *voice.Manager
	dir       Directory
	announcer Announcer
	store     Store
	metrics   *metrics.Metrics

	searchPrefix string
	idleTimeout  time.Duration
	callTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	guilds map[string]*guild

	subMu       sync.Mutex
	subscribers map[chan models.PlayerSnapshot]struct{}

	startOnce sync.Once
	done      chan struct{}
}

type Option func(*Coordinator)

func WithAnnouncer(a Announcer) Option {
	return func(c *Coordinator) { c.announcer = a }
}

func WithStore(s Store) Option {
	return func(c *Coordinator) { c.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSearchPrefix sets the loadtracks prefix used for plain text queries.
func WithSearchPrefix(prefix string) Option {
	return func(c *Coordinator) { c.searchPrefix = prefix }
}

// WithIdleTimeout sets how long an idle guild stays connected.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.idleTimeout = d }
}

// WithCallTimeout bounds node calls made while reacting to events.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.callTimeout = d }
}

func New(nodes Nodes, vm *voice.Manager, dir Directory, opts ...Option) *Coordinator {
	c := &Coordinator{
		nodes:        nodes,
		voice:        vm,
		dir:          dir,
		searchPrefix: "ytsearch",
		idleTimeout:  DefaultIdleTimeout,
		callTimeout:  httputil.DefaultTimeout,
		guilds:       make(map[string]*guild),
		subscribers:  make(map[chan models.PlayerSnapshot]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start consumes node events until ctx is done, the channel closes or
// Shutdown is called.
func (c *Coordinator) Start(ctx context.Context, events <-chan pool.NodeEvent) {
	c.startOnce.Do(func() {
		c.done = make(chan struct{})
		go c.run(ctx, events)
	})
}

// Shutdown halts event consumption and every guild actor. Voice
// connections are left alone so a resumed node keeps its players.
func (c *Coordinator) Shutdown() {
	c.cancel()
	if c.done != nil {
		<-c.done
	}
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, events <-chan pool.NodeEvent) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case ne, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ne)
		}
	}
}

// HandleEvent routes one node event to the guild it concerns.
func (c *Coordinator) HandleEvent(ne pool.NodeEvent) {
	switch ev := ne.Event.(type) {
	case lavalink.ReadyEvent:
		if !ev.Resumed {
			c.dropNode(ne.Node, "node session was not resumed")
		}
	case lavalink.ErrorEvent:
		if ev.Fatal {
			c.dropNode(ne.Node, "node stopped reconnecting")
		}
	case lavalink.StatsEvent, lavalink.DisconnectedEvent:
	case lavalink.PlayerUpdateEvent:
		c.dispatch(ne.Node, ev.GuildID, func(g *guild) { g.onPlayerUpdate(ev) })
	case lavalink.TrackStartEvent:
		c.dispatch(ne.Node, ev.GuildID, func(g *guild) { g.onTrackStart(ev) })
	case lavalink.TrackEndEvent:
		c.dispatch(ne.Node, ev.GuildID, func(g *guild) { g.onTrackEnd(ev) })
	case lavalink.TrackExceptionEvent:
		c.dispatch(ne.Node, ev.GuildID, func(g *guild) { g.onTrackException(ev) })
	case lavalink.TrackStuckEvent:
		c.dispatch(ne.Node, ev.GuildID, func(g *guild) { g.onTrackStuck(ev) })
	case lavalink.WebSocketClosedEvent:
		c.dispatch(ne.Node, ev.GuildID, func(g *guild) { g.onWebSocketClosed(ev) })
	default:
		slog.Warn("unhandled node event", "node", ne.Node, "type", fmt.Sprintf("%T", ne.Event))
	}
}

// dispatch hands fn to the guild's actor. Events from a node the guild is
// no longer bound to are dropped there.
func (c *Coordinator) dispatch(node, guildID string, fn func(g *guild)) {
	g := c.lookup(guildID, false)
	if g == nil {
		slog.Debug("event for unknown guild", "node", node, "guild", guildID)
		return
	}
	task := func() {
		if g.node == nil || g.node.Name() != node {
			return
		}
		fn(g)
	}
	select {
	case g.inbox <- task:
	case <-g.done:
	}
}

// dropNode tears down every guild whose player lived on node.
func (c *Coordinator) dropNode(node, reason string) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.guilds))
	for id := range c.guilds {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.dispatch(node, id, func(g *guild) {
			slog.Warn("tearing down guild", "guild", g.id, "node", node, "reason", reason)
			ctx, cancel := g.callCtx()
			defer cancel()
			g.teardown(ctx)
		})
	}
}

// lookup returns the guild's actor, starting one when create is set.
func (c *Coordinator) lookup(guildID string, create bool) *guild {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g := c.guilds[guildID]; g != nil {
		return g
	}
	if !create || c.ctx.Err() != nil {
		return nil
	}
	g := newGuild(c, guildID)
	c.guilds[guildID] = g
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		g.run()
	}()
	c.metrics.SetActiveGuilds(len(c.guilds))
	return g
}

// retire removes g from the registry and stops its actor.
func (c *Coordinator) retire(g *guild) {
	c.mu.Lock()
	if c.guilds[g.id] == g {
		delete(c.guilds, g.id)
	}
	n := len(c.guilds)
	c.mu.Unlock()
	c.metrics.SetActiveGuilds(n)
	g.cancel()
}

// exec runs fn on the guild's actor and waits for its result. When the
// actor retires before running fn and create is set, a fresh actor is tried
// once more.
func (c *Coordinator) exec(ctx context.Context, guildID string, create bool, fn func(ctx context.Context, g *guild) error) error {
	for attempt := 0; ; attempt++ {
		g := c.lookup(guildID, create)
		if g == nil {
			if c.ctx.Err() != nil {
				return errStopped
			}
			return models.ErrNotInVoice
		}
		ran, err := c.execOn(ctx, g, fn)
		if ran || !create || attempt > 0 {
			return err
		}
	}
}

func (c *Coordinator) execOn(ctx context.Context, g *guild, fn func(ctx context.Context, g *guild) error) (bool, error) {
	errc := make(chan error, 1)
	task := func() { errc <- fn(ctx, g) }
	select {
	case g.inbox <- task:
	case <-g.done:
		return false, models.ErrNotInVoice
	case <-ctx.Done():
		return true, ctx.Err()
	}
	select {
	case err := <-errc:
		return true, err
	case <-g.done:
		select {
		case err := <-errc:
			return true, err
		default:
			return false, models.ErrNotInVoice
		}
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Snapshot returns the last published player state of a guild.
func (c *Coordinator) Snapshot(guildID string) (models.PlayerSnapshot, bool) {
	g := c.lookup(guildID, false)
	if g == nil {
		return models.PlayerSnapshot{}, false
	}
	return *g.snapshot.Load(), true
}

// Snapshots returns every active guild's player state ordered by guild id.
func (c *Coordinator) Snapshots() []models.PlayerSnapshot {
	c.mu.Lock()
	out := make([]models.PlayerSnapshot, 0, len(c.guilds))
	for _, g := range c.guilds {
		out = append(out, *g.snapshot.Load())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

// ActiveGuilds counts guilds with a live actor.
func (c *Coordinator) ActiveGuilds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.guilds)
}

func (c *Coordinator) Subscribe() chan models.PlayerSnapshot {
	ch := make(chan models.PlayerSnapshot, 16)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

func (c *Coordinator) Unsubscribe(ch chan models.PlayerSnapshot) {
	c.subMu.Lock()
	_, exists := c.subscribers[ch]
	delete(c.subscribers, ch)
	c.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (c *Coordinator) broadcast(s models.PlayerSnapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}
