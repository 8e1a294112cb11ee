package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildtunes/internal/lavalink"
	"guildtunes/internal/metrics"
	"guildtunes/internal/models"
	"guildtunes/internal/pool"
	"guildtunes/internal/voice"
)

func track(id string) models.Track {
	return models.Track{
		Encoded: "enc-" + id,
		Info: models.TrackInfo{
			Identifier: id,
			Title:      "Song " + id,
			Author:     "Artist",
			URI:        "https://example.com/" + id,
			Length:     180000,
			IsSeekable: true,
			SourceName: "youtube",
		},
	}
}

type fakeNode struct {
	name string

	mu        sync.Mutex
	results   map[string]*lavalink.LoadResult
	loads     []string
	played    []string
	calls     []string
	destroyed int
	playErr   error
}

func newFakeNode(name string) *fakeNode {
	return &fakeNode{name: name, results: make(map[string]*lavalink.LoadResult)}
}

func (f *fakeNode) Name() string { return f.name }

func (f *fakeNode) setResult(identifier string, res *lavalink.LoadResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[identifier] = res
}

func (f *fakeNode) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeNode) Played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func (f *fakeNode) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeNode) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

func (f *fakeNode) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeNode) LoadTracks(ctx context.Context, identifier string) (*lavalink.LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, identifier)
	if r, ok := f.results[identifier]; ok {
		return r, nil
	}
	return &lavalink.LoadResult{LoadType: lavalink.LoadEmpty}, nil
}

// failPlays makes every Play fail with err until it is reset to nil.
func (f *fakeNode) failPlays(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func (f *fakeNode) Play(ctx context.Context, guildID string, t models.Track, opts lavalink.PlayOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, t.Encoded)
	return nil
}

func (f *fakeNode) Stop(ctx context.Context, guildID string) error {
	f.record("stop")
	return nil
}

func (f *fakeNode) Pause(ctx context.Context, guildID string, paused bool) error {
	f.record(fmt.Sprintf("pause:%v", paused))
	return nil
}

func (f *fakeNode) Seek(ctx context.Context, guildID string, position int64) error {
	f.record(fmt.Sprintf("seek:%d", position))
	return nil
}

func (f *fakeNode) SetVolume(ctx context.Context, guildID string, volume int) error {
	f.record(fmt.Sprintf("volume:%d", volume))
	return nil
}

func (f *fakeNode) SetFilters(ctx context.Context, guildID string, filters lavalink.Filters) error {
	f.record("filters")
	return nil
}

func (f *fakeNode) ClearFilters(ctx context.Context, guildID string) error {
	f.record("clearfilters")
	return nil
}

func (f *fakeNode) UpdateVoice(ctx context.Context, guildID string, v lavalink.VoiceState) error {
	f.record("voice:" + v.ChannelID)
	return nil
}

func (f *fakeNode) DestroyPlayer(ctx context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return nil
}

type fakeNodes struct {
	mu   sync.Mutex
	node Node
	err  error
}

func (f *fakeNodes) Select() (Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.node, nil
}

// autoSignaler completes the gateway half of the voice handshake on its
// own unless manual is set.
type autoSignaler struct {
	vm     *voice.Manager
	manual bool
	joined chan string

	mu     sync.Mutex
	joins  []string
	leaves []string
}

func (s *autoSignaler) JoinVoice(ctx context.Context, guildID, channelID string) error {
	s.mu.Lock()
	s.joins = append(s.joins, guildID+"/"+channelID)
	s.mu.Unlock()
	if s.manual {
		s.joined <- channelID
		return nil
	}
	go func() {
		s.vm.HandleStateUpdate(guildID, channelID, "sess-"+guildID)
		s.vm.HandleServerUpdate(guildID, "tok", "voice.example.com")
	}()
	return nil
}

func (s *autoSignaler) LeaveVoice(ctx context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves = append(s.leaves, guildID)
	return nil
}

func (s *autoSignaler) Joins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joins...)
}

func (s *autoSignaler) Leaves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.leaves...)
}

type fakeDir struct {
	mu        sync.Mutex
	listeners int
	members   map[string]models.Member
}

func (d *fakeDir) Listeners(guildID, channelID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listeners
}

func (d *fakeDir) Member(ctx context.Context, guildID, userID string) (models.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[userID]
	if !ok {
		m = models.Member{}
	}
	m.UserID = userID
	return m, nil
}

type fakeStore struct {
	mu       sync.Mutex
	settings models.GuildSettings
	saved    map[string]models.GuildSettings
	plays    chan *models.PlayRecord
}

func (s *fakeStore) GetGuildSettings(ctx context.Context, guildID string) (models.GuildSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gs, ok := s.saved[guildID]; ok {
		return gs, nil
	}
	return s.settings, nil
}

func (s *fakeStore) SaveGuildSettings(ctx context.Context, guildID string, gs models.GuildSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[guildID] = gs
	return nil
}

func (s *fakeStore) InsertPlay(ctx context.Context, p *models.PlayRecord) error {
	s.plays <- p
	return nil
}

type fakeAnnouncer struct {
	ch chan string
}

func (a *fakeAnnouncer) NowPlaying(ctx context.Context, guildID, channelID string, e models.QueueEntry) error {
	a.ch <- channelID + ":" + e.Track.Info.Title
	return nil
}

type fixture struct {
	c     *Coordinator
	vm    *voice.Manager
	node  *fakeNode
	nodes *fakeNodes
	sig   *autoSignaler
	dir   *fakeDir
	store *fakeStore
	ann   *fakeAnnouncer
}

func newFixture(t *testing.T, gs models.GuildSettings, opts ...Option) *fixture {
	t.Helper()
	node := newFakeNode("n1")
	sig := &autoSignaler{joined: make(chan string, 4)}
	vm := voice.NewManager(sig, voice.WithTimeout(time.Second))
	sig.vm = vm
	f := &fixture{
		vm:    vm,
		node:  node,
		nodes: &fakeNodes{node: node},
		sig:   sig,
		dir:   &fakeDir{listeners: 1, members: map[string]models.Member{}},
		store: &fakeStore{settings: gs, saved: map[string]models.GuildSettings{}, plays: make(chan *models.PlayRecord, 8)},
		ann:   &fakeAnnouncer{ch: make(chan string, 8)},
	}
	base := []Option{
		WithStore(f.store),
		WithAnnouncer(f.ann),
		WithMetrics(metrics.New()),
		WithIdleTimeout(time.Hour),
	}
	f.c = New(f.nodes, vm, f.dir, append(base, opts...)...)
	t.Cleanup(f.c.Shutdown)
	return f
}

// searchable makes each id resolvable as a plain search query.
func (f *fixture) searchable(ids ...string) {
	for _, id := range ids {
		f.node.setResult("ytsearch:"+id, &lavalink.LoadResult{
			LoadType: lavalink.LoadSearch,
			Tracks:   []models.Track{track(id), track(id + "-alt")},
		})
	}
}

func (f *fixture) playAs(channel, query string) (*PlayResult, error) {
	return f.c.Play(context.Background(), PlayRequest{
		GuildID:        "g1",
		VoiceChannelID: channel,
		TextChannelID:  "tc1",
		Query:          query,
		Requester:      models.Requester{ID: "u1", Name: "alice"},
	})
}

func (f *fixture) play(t *testing.T, queries ...string) {
	t.Helper()
	for _, q := range queries {
		_, err := f.playAs("vc1", q)
		require.NoError(t, err)
	}
}

// event delivers ev from node n1 and waits until the guild actor handled it.
func (f *fixture) event(t *testing.T, ev lavalink.Event) {
	t.Helper()
	f.c.HandleEvent(pool.NodeEvent{Node: "n1", Event: ev})
	f.sync(t)
}

// sync queues a no-op behind everything already in the guild's inbox.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	_, err := f.c.History(context.Background(), "g1")
	require.NoError(t, err)
}

func (f *fixture) snapshot(t *testing.T) models.PlayerSnapshot {
	t.Helper()
	s, ok := f.c.Snapshot("g1")
	require.True(t, ok, "guild has no snapshot")
	return s
}

func encoded(ids ...string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "enc-" + id
	}
	return out
}
