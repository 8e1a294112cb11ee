// Package lavalink is a client for Lavalink v4 audio nodes: one Node per
// server, speaking the websocket event protocol and the REST control API.
package lavalink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"guildtunes/internal/httputil"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultMaxReconnects  = 10
	DefaultClientName     = "guildtunes/1.0"

	pingInterval     = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	eventBuffer      = 64
)

var ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")

type Config struct {
	Name       string
	Host       string
	Port       int
	Password   string
	Secure     bool
	UserID     string
	ClientName string

	ReconnectDelay time.Duration
	MaxReconnects  int
	// ResumeTimeout enables session resuming when positive.
	ResumeTimeout time.Duration
}

type Node struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	events  chan Event

	mu        sync.RWMutex
	connected bool
	sessionID string
	stats     *Stats

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Node)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Node) { n.http = c }
}

// WithRateLimit bounds REST calls to the node.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(n *Node) { n.limiter = rate.NewLimiter(r, burst) }
}

func New(cfg Config, opts ...Option) *Node {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	n := &Node{
		cfg:     cfg,
		http:    httputil.NewClient(),
		limiter: rate.NewLimiter(50, 20),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Node) Name() string { return n.cfg.Name }

// Events is closed once the node stops for good: after Close or after
// reconnect attempts are exhausted.
func (n *Node) Events() <-chan Event { return n.events }

// Connected reports whether the node has an open socket with a ready session.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// Stats returns the last pushed stats, or false when none arrived since the
// current connection was established.
func (n *Node) Stats() (Stats, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stats == nil {
		return Stats{}, false
	}
	return *n.stats, true
}

// Connect starts the connection loop and returns immediately. Readiness is
// reported by a ReadyEvent.
func (n *Node) Connect(ctx context.Context) {
	n.startOnce.Do(func() {
		ctx, n.cancel = context.WithCancel(ctx)
		go n.run(ctx)
	})
}

func (n *Node) Close() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
}

func (n *Node) wsURL() string {
	scheme := "ws"
	if n.cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, n.cfg.Host, n.cfg.Port)
}

func (n *Node) baseURL() string {
	scheme := "http"
	if n.cfg.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/v4", scheme, n.cfg.Host, n.cfg.Port)
}

func (n *Node) run(ctx context.Context) {
	defer close(n.done)
	defer close(n.events)

	failures := 0
	for {
		ready, err := n.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if ready {
			failures = 0
		}
		slog.Warn("lavalink node disconnected", "node", n.cfg.Name, "error", err)
		if !n.emit(ctx, DisconnectedEvent{Err: err}) {
			return
		}

		failures++
		if failures > n.cfg.MaxReconnects {
			n.emit(ctx, ErrorEvent{
				Err:   fmt.Errorf("node %s: %w after %d attempts", n.cfg.Name, ErrReconnectsExhausted, n.cfg.MaxReconnects),
				Fatal: true,
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.cfg.ReconnectDelay):
		}
	}
}

// connectOnce holds one socket until it fails. ready reports whether the
// node accepted the session before the failure.
func (n *Node) connectOnce(ctx context.Context) (ready bool, err error) {
	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.cfg.UserID)
	header.Set("Client-Name", n.cfg.ClientName)
	if id := n.SessionID(); id != "" {
		header.Set("Session-Id", id)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, n.wsURL(), header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { conn.Close() })
	defer stop()
	defer n.markDisconnected()

	// Ping goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(
					websocket.PingMessage, nil,
					time.Now().Add(5*time.Second),
				); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return ready, err
		}
		ev, ok := parseMessage(msg)
		if !ok {
			continue
		}
		n.apply(ctx, ev)
		if _, ok := ev.(ReadyEvent); ok {
			ready = true
		}
		if !n.emit(ctx, ev) {
			return ready, ctx.Err()
		}
	}
}

func (n *Node) apply(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ReadyEvent:
		n.mu.Lock()
		n.sessionID = e.SessionID
		n.connected = true
		n.stats = nil
		n.mu.Unlock()
		slog.Info("lavalink node ready", "node", n.cfg.Name, "session", e.SessionID, "resumed", e.Resumed)
		if !e.Resumed && n.cfg.ResumeTimeout > 0 {
			go n.enableResuming(ctx)
		}
	case StatsEvent:
		s := e.Stats
		n.mu.Lock()
		n.stats = &s
		n.mu.Unlock()
	}
}

func (n *Node) enableResuming(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, httputil.DefaultTimeout)
	defer cancel()
	if err := n.UpdateSession(ctx, true, n.cfg.ResumeTimeout); err != nil {
		slog.Warn("lavalink enable resuming failed", "node", n.cfg.Name, "error", err)
	}
}

func (n *Node) markDisconnected() {
	n.mu.Lock()
	n.connected = false
	n.stats = nil
	n.mu.Unlock()
}

func (n *Node) emit(ctx context.Context, ev Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
