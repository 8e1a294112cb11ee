// Package voice drives the per-guild voice handshake: the gateway delivers
// a session id and a server token+endpoint as two separate updates, and only
// once both are known can an audio node join the channel.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"guildtunes/internal/httputil"
	"guildtunes/internal/lavalink"
	"guildtunes/internal/metrics"
	"guildtunes/internal/models"
)

const DefaultTimeout = 15 * time.Second

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

// Signaler sends join and leave requests over the voice signaling channel.
type Signaler interface {
	JoinVoice(ctx context.Context, guildID, channelID string) error
	LeaveVoice(ctx context.Context, guildID string) error
}

// Node is the audio node side of the handshake.
type Node interface {
	UpdateVoice(ctx context.Context, guildID string, voice lavalink.VoiceState) error
	DestroyPlayer(ctx context.Context, guildID string) error
}

type session struct {
	guildID   string
	channelID string
	sessionID string
	token     string
	endpoint  string
	stateSeen bool
	state     State
	node      Node

	ready      chan struct{}
	readyFired bool
	abort      chan error
}

func (s *session) complete() bool {
	return s.stateSeen && s.sessionID != "" && s.token != "" && s.endpoint != ""
}

func (s *session) voiceState() lavalink.VoiceState {
	return lavalink.VoiceState{
		Token:     s.token,
		Endpoint:  s.endpoint,
		SessionID: s.sessionID,
		ChannelID: s.channelID,
	}
}

type Manager struct {
	signaler Signaler
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Manager)

// WithTimeout overrides how long Connect waits for both gateway updates.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(signaler Signaler, opts ...Option) *Manager {
	m := &Manager{
		signaler: signaler,
		timeout:  DefaultTimeout,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Connect joins channelID and hands the resulting credentials to node. It
// returns once the node accepted them. Connecting to the channel the guild
// is already in is a no-op; a different channel moves the bot.
func (m *Manager) Connect(ctx context.Context, guildID, channelID string, node Node) error {
	m.mu.Lock()
	s := &session{
		guildID:   guildID,
		channelID: channelID,
		state:     StateConnecting,
		ready:     make(chan struct{}),
		abort:     make(chan error, 1),
	}
	if prev := m.sessions[guildID]; prev != nil {
		switch prev.state {
		case StateConnecting:
			m.mu.Unlock()
			return models.ErrVoiceConnectInProgress
		case StateConnected:
			if prev.channelID == channelID {
				m.mu.Unlock()
				return nil
			}
			// The gateway only resends the server update when the voice
			// server changes, so a move keeps the current one.
			s.token, s.endpoint = prev.token, prev.endpoint
		}
	}
	m.sessions[guildID] = s
	m.mu.Unlock()

	if err := m.signaler.JoinVoice(ctx, guildID, channelID); err != nil {
		m.fail(s)
		m.metrics.IncVoiceConnect("error")
		return fmt.Errorf("sending voice join: %w", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case <-s.ready:
	case err := <-s.abort:
		m.metrics.IncVoiceConnect("error")
		return err
	case <-timer.C:
		m.fail(s)
		m.metrics.IncVoiceConnect("timeout")
		slog.Warn("voice handshake timed out", "guild", guildID, "channel", channelID)
		return models.ErrVoiceTimeout
	case <-ctx.Done():
		m.fail(s)
		m.metrics.IncVoiceConnect("error")
		return ctx.Err()
	}

	m.mu.Lock()
	if m.sessions[guildID] != s {
		m.mu.Unlock()
		return models.ErrVoiceDisconnected
	}
	vs := s.voiceState()
	m.mu.Unlock()

	if err := node.UpdateVoice(ctx, guildID, vs); err != nil {
		m.fail(s)
		m.metrics.IncVoiceConnect("error")
		return fmt.Errorf("handing voice state to node: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[guildID] != s {
		return models.ErrVoiceDisconnected
	}
	s.state = StateConnected
	s.node = node
	m.metrics.IncVoiceConnect("ok")
	slog.Info("voice connected", "guild", guildID, "channel", channelID)
	return nil
}

func (m *Manager) fail(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.guildID] == s {
		s.state = StateFailed
	}
}

// Disconnect leaves the channel and destroys the node player. Both remote
// calls are best effort; local state is always cleared and a pending
// Connect fails with ErrVoiceDisconnected. node may be nil to use the node
// the session was connected through.
func (m *Manager) Disconnect(ctx context.Context, guildID string, node Node) {
	m.mu.Lock()
	s := m.sessions[guildID]
	delete(m.sessions, guildID)
	if s != nil && s.state == StateConnecting {
		s.abort <- models.ErrVoiceDisconnected
	}
	if node == nil && s != nil {
		node = s.node
	}
	m.mu.Unlock()

	if err := m.signaler.LeaveVoice(ctx, guildID); err != nil {
		slog.Debug("voice leave failed", "guild", guildID, "error", err)
	}
	if node != nil {
		if err := node.DestroyPlayer(ctx, guildID); err != nil {
			slog.Debug("destroy player failed", "guild", guildID, "error", err)
		}
	}
}

// Forget drops local state without signaling, for sessions the remote side
// already closed.
func (m *Manager) Forget(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[guildID]
	delete(m.sessions, guildID)
	if s != nil && s.state == StateConnecting {
		s.abort <- models.ErrVoiceDisconnected
	}
}

// HandleStateUpdate records the bot's own voice state. An empty channel
// means the bot left or was removed.
func (m *Manager) HandleStateUpdate(guildID, channelID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[guildID]
	if s == nil || s.state == StateFailed {
		return
	}
	if channelID == "" {
		if s.state == StateConnected {
			delete(m.sessions, guildID)
		}
		return
	}
	s.channelID = channelID
	s.sessionID = sessionID
	s.stateSeen = true
	m.checkReady(s)
}

// HandleServerUpdate records the voice server assignment. For an already
// connected guild the new server is pushed to the node.
func (m *Manager) HandleServerUpdate(guildID, token, endpoint string) {
	if endpoint == "" {
		return
	}
	m.mu.Lock()
	s := m.sessions[guildID]
	if s == nil || s.state == StateFailed {
		m.mu.Unlock()
		return
	}
	s.token, s.endpoint = token, endpoint
	if s.state == StateConnecting {
		m.checkReady(s)
		m.mu.Unlock()
		return
	}
	node, vs := s.node, s.voiceState()
	m.mu.Unlock()

	if node == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), httputil.DefaultTimeout)
		defer cancel()
		if err := node.UpdateVoice(ctx, guildID, vs); err != nil {
			slog.Warn("voice server migration failed", "guild", guildID, "error", err)
		}
	}()
}

func (m *Manager) checkReady(s *session) {
	if s.state == StateConnecting && !s.readyFired && s.complete() {
		s.readyFired = true
		close(s.ready)
	}
}

func (m *Manager) State(guildID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.sessions[guildID]; s != nil {
		return s.state
	}
	return StateIdle
}

// ChannelID returns the channel of a connected or connecting guild.
func (m *Manager) ChannelID(guildID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[guildID]
	if s == nil || s.state == StateFailed {
		return "", false
	}
	return s.channelID, true
}
