// Package pool owns the audio nodes, merges their event streams and picks
// the least loaded node for new players.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"guildtunes/internal/lavalink"
	"guildtunes/internal/metrics"
	"guildtunes/internal/models"
)

// Worker is the part of *lavalink.Node the pool drives.
type Worker interface {
	Name() string
	Connect(ctx context.Context)
	Close()
	Events() <-chan lavalink.Event
	Connected() bool
	Stats() (lavalink.Stats, bool)
	FetchStats(ctx context.Context) (*lavalink.Stats, error)
}

// Alerter is told when a node gives up reconnecting.
type Alerter interface {
	NodeDown(ctx context.Context, node string, cause error) error
}

// NodeEvent is an event tagged with the node that produced it.
type NodeEvent struct {
	Node  string
	Event lavalink.Event
}

type NodeStatus struct {
	Name      string          `json:"name"`
	Connected bool            `json:"connected"`
	Stats     *lavalink.Stats `json:"stats"`
	Penalty   *float64        `json:"penalty"`
}

type Pool[W Worker] struct {
	mu    sync.RWMutex
	nodes []W

	events  chan NodeEvent
	metrics *metrics.Metrics
	alerter Alerter

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*options)

type options struct {
	metrics *metrics.Metrics
	alerter Alerter
	buffer  int
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithAlerter(a Alerter) Option {
	return func(o *options) { o.alerter = a }
}

func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

func New[W Worker](opts ...Option) *Pool[W] {
	o := options{buffer: 256}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool[W]{
		events:  make(chan NodeEvent, o.buffer),
		metrics: o.metrics,
		alerter: o.alerter,
	}
}

// Add registers a node. Nodes added after Start are connected right away.
func (p *Pool[W]) Add(w W) {
	p.mu.Lock()
	p.nodes = append(p.nodes, w)
	ctx := p.ctx
	p.mu.Unlock()
	if ctx != nil {
		p.startNode(ctx, w)
	}
}

func (p *Pool[W]) Nodes() []W {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]W, len(p.nodes))
	copy(out, p.nodes)
	return out
}

func (p *Pool[W]) Get(name string) (W, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.nodes {
		if w.Name() == name {
			return w, true
		}
	}
	var zero W
	return zero, false
}

// Events is the merged stream of every node. It is closed by Stop.
func (p *Pool[W]) Events() <-chan NodeEvent { return p.events }

func (p *Pool[W]) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.ctx, p.cancel = ctx, cancel
		nodes := make([]W, len(p.nodes))
		copy(nodes, p.nodes)
		p.mu.Unlock()
		for _, w := range nodes {
			p.startNode(ctx, w)
		}
	})
}

func (p *Pool[W]) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	nodes := make([]W, len(p.nodes))
	copy(nodes, p.nodes)
	p.mu.RUnlock()
	if cancel == nil {
		return
	}
	p.stopOnce.Do(func() {
		cancel()
		for _, w := range nodes {
			w.Close()
		}
		p.wg.Wait()
		close(p.events)
	})
}

func (p *Pool[W]) startNode(ctx context.Context, w W) {
	w.Connect(ctx)
	p.wg.Add(1)
	go p.forward(ctx, w)
}

func (p *Pool[W]) forward(ctx context.Context, w W) {
	defer p.wg.Done()
	name := w.Name()
	for ev := range w.Events() {
		p.observe(ctx, name, ev)
		select {
		case p.events <- NodeEvent{Node: name, Event: ev}:
		case <-ctx.Done():
			return
		}
	}
	p.metrics.SetNodeConnected(name, false)
}

func (p *Pool[W]) observe(ctx context.Context, name string, ev lavalink.Event) {
	switch e := ev.(type) {
	case lavalink.ReadyEvent:
		p.metrics.SetNodeConnected(name, true)
	case lavalink.DisconnectedEvent:
		p.metrics.SetNodeConnected(name, false)
		p.metrics.IncNodeDisconnects(name)
	case lavalink.StatsEvent:
		p.metrics.ObserveNodeStats(name, e.Stats.Players, e.Stats.PlayingPlayers, e.Stats.CPU.SystemLoad)
	case lavalink.ErrorEvent:
		slog.Error("lavalink node error", "node", name, "fatal", e.Fatal, "error", e.Err)
		if e.Fatal && p.alerter != nil {
			go func() {
				if err := p.alerter.NodeDown(context.WithoutCancel(ctx), name, e.Err); err != nil {
					slog.Warn("node alert failed", "node", name, "error", err)
				}
			}()
		}
	}
}

// Select returns the connected node with the lowest penalty. A connected
// node that has not reported stats yet wins outright; ties keep
// registration order.
func (p *Pool[W]) Select() (W, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best W
	found := false
	bestPenalty := math.Inf(1)
	for _, w := range p.nodes {
		if !w.Connected() {
			continue
		}
		s, ok := w.Stats()
		if !ok {
			return w, nil
		}
		if pen := s.Penalty(); !found || pen < bestPenalty {
			best, bestPenalty, found = w, pen, true
		}
	}
	if !found {
		var zero W
		return zero, models.ErrNoWorkerAvailable
	}
	return best, nil
}

// Status reports every node with its last pushed stats.
func (p *Pool[W]) Status() []NodeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]NodeStatus, 0, len(p.nodes))
	for _, w := range p.nodes {
		st := NodeStatus{Name: w.Name(), Connected: w.Connected()}
		if s, ok := w.Stats(); ok {
			pen := s.Penalty()
			st.Stats, st.Penalty = &s, &pen
		}
		out = append(out, st)
	}
	return out
}

// RefreshStats fetches stats from every connected node concurrently. Nodes
// that fail are left out of the result and their errors are joined.
func (p *Pool[W]) RefreshStats(ctx context.Context) (map[string]lavalink.Stats, error) {
	nodes := p.Nodes()
	results := make([]*lavalink.Stats, len(nodes))
	errs := make([]error, len(nodes))

	var g errgroup.Group
	for i, w := range nodes {
		if !w.Connected() {
			continue
		}
		g.Go(func() error {
			results[i], errs[i] = w.FetchStats(ctx)
			return nil
		})
	}
	g.Wait()

	out := make(map[string]lavalink.Stats, len(nodes))
	for i, w := range nodes {
		if results[i] != nil {
			out[w.Name()] = *results[i]
			p.metrics.ObserveNodeStats(w.Name(), results[i].Players, results[i].PlayingPlayers, results[i].CPU.SystemLoad)
		}
	}
	return out, errors.Join(errs...)
}
