package server

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"

	"guildtunes/internal/models"
	"guildtunes/internal/pool"
	"guildtunes/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	_, f, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(f), "..", "..", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations dir: %v", err)
	}
	if err := s.Migrate(dir); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.Store, *fakePlayers) {
	t.Helper()
	st := newTestStore(t)
	fp := newFakePlayers()
	srv := NewServer(st, append([]Option{WithPlayers(fp)}, opts...)...)
	t.Cleanup(srv.Close)
	return srv, st, fp
}

type fakePlayers struct {
	mu         sync.Mutex
	snaps      map[string]models.PlayerSnapshot
	history    map[string][]models.HistoryEntry
	subscribed chan chan models.PlayerSnapshot
}

func newFakePlayers() *fakePlayers {
	return &fakePlayers{
		snaps:      map[string]models.PlayerSnapshot{},
		history:    map[string][]models.HistoryEntry{},
		subscribed: make(chan chan models.PlayerSnapshot, 1),
	}
}

func (f *fakePlayers) set(s models.PlayerSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[s.GuildID] = s
}

func (f *fakePlayers) Snapshot(guildID string) (models.PlayerSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[guildID]
	return s, ok
}

func (f *fakePlayers) Snapshots() []models.PlayerSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PlayerSnapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

func (f *fakePlayers) History(ctx context.Context, guildID string) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[guildID], nil
}

func (f *fakePlayers) Subscribe() chan models.PlayerSnapshot {
	ch := make(chan models.PlayerSnapshot, 4)
	f.subscribed <- ch
	return ch
}

func (f *fakePlayers) Unsubscribe(ch chan models.PlayerSnapshot) {}

type fakeNodes []pool.NodeStatus

func (f fakeNodes) Status() []pool.NodeStatus { return f }

func playing(guildID, title string) models.PlayerSnapshot {
	s := models.EmptySnapshot(guildID, models.DefaultGuildSettings())
	s.Current = &models.SnapshotTrack{Title: title, Length: 180000, Requester: models.Requester{ID: "1", Name: "alice"}}
	s.Playing = true
	s.Position = 1000
	return s
}
