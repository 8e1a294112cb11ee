// Package scheduler runs periodic housekeeping: node stats refreshes and
// the nightly play history prune.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"guildtunes/internal/lavalink"
)

const (
	DefaultStatsInterval = time.Minute
	DefaultTaskTimeout   = 30 * time.Second
)

type StatsRefresher interface {
	RefreshStats(ctx context.Context) (map[string]lavalink.Stats, error)
}

type PlayPruner interface {
	PrunePlays(ctx context.Context, before time.Time) (int64, error)
}

type Scheduler struct {
	stats         StatsRefresher
	plays         PlayPruner
	statsInterval time.Duration
	retention     time.Duration
	taskTimeout   time.Duration
	now           func() time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Scheduler)

func WithStatsInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.statsInterval = d
		}
	}
}

// WithRetention enables the nightly prune of plays older than d. Zero
// keeps history forever.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.taskTimeout = d }
}

func New(stats StatsRefresher, plays PlayPruner, opts ...Option) *Scheduler {
	sch := &Scheduler{
		stats:         stats,
		plays:         plays,
		statsInterval: DefaultStatsInterval,
		taskTimeout:   DefaultTaskTimeout,
		now:           time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start refreshes stats every interval and prunes history on startup and
// then daily at 3 AM local time.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.startOnce.Do(func() {
		ctx, sch.cancel = context.WithCancel(ctx)
		go sch.run(ctx)
	})
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}
}

func (sch *Scheduler) run(ctx context.Context) {
	defer close(sch.done)

	sch.Prune(ctx)

	stats := time.NewTicker(sch.statsInterval)
	defer stats.Stop()
	prune := time.NewTimer(durationUntil3AM(sch.now()))
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			sch.RefreshStats(ctx)
		case <-prune.C:
			sch.Prune(ctx)
			// Recalculate to handle DST transitions
			prune.Reset(durationUntil3AM(sch.now()))
		}
	}
}

// RefreshStats pulls stats from every node. Per-node failures are logged.
func (sch *Scheduler) RefreshStats(ctx context.Context) {
	if sch.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sch.taskTimeout)
	defer cancel()
	got, err := sch.stats.RefreshStats(ctx)
	if err != nil {
		slog.Warn("refreshing node stats", "refreshed", len(got), "error", err)
		return
	}
	slog.Debug("refreshed node stats", "nodes", len(got))
}

// Prune deletes plays older than the retention window.
func (sch *Scheduler) Prune(ctx context.Context) {
	if sch.plays == nil || sch.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sch.taskTimeout)
	defer cancel()
	cutoff := sch.now().UTC().Add(-sch.retention)
	n, err := sch.plays.PrunePlays(ctx, cutoff)
	if err != nil {
		slog.Error("pruning play history", "before", cutoff, "error", err)
		return
	}
	if n > 0 {
		slog.Info("pruned play history", "deleted", n, "before", cutoff)
	}
}

// durationUntil3AM uses local time so the job runs at 3 AM in the server's timezone.
func durationUntil3AM(now time.Time) time.Duration {
	next3AM := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())

	if !now.Before(next3AM) {
		next3AM = next3AM.Add(24 * time.Hour)
	}

	return next3AM.Sub(now)
}
