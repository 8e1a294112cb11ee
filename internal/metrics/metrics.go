package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for nodes and guild players.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	nodeConnected  *prometheus.GaugeVec
	nodePlayers    *prometheus.GaugeVec
	nodePlaying    *prometheus.GaugeVec
	nodeCPULoad    *prometheus.GaugeVec
	nodeReconnects *prometheus.CounterVec

	activeGuilds  prometheus.Gauge
	tracksStarted prometheus.Counter
	trackEnds     *prometheus.CounterVec
	trackErrors   *prometheus.CounterVec
	voiceConnects *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		nodeConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guildtunes_node_connected",
			Help: "Whether the audio node has a ready session (1) or not (0)",
		}, []string{"node"}),
		nodePlayers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guildtunes_node_players",
			Help: "Players reported by the audio node",
		}, []string{"node"}),
		nodePlaying: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guildtunes_node_playing_players",
			Help: "Players currently playing on the audio node",
		}, []string{"node"}),
		nodeCPULoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guildtunes_node_cpu_system_load",
			Help: "System CPU load reported by the audio node",
		}, []string{"node"}),
		nodeReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildtunes_node_disconnects_total",
			Help: "Socket drops per audio node",
		}, []string{"node"}),
		activeGuilds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guildtunes_active_guilds",
			Help: "Guilds with a live player",
		}),
		tracksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildtunes_tracks_started_total",
			Help: "Tracks started across all guilds",
		}),
		trackEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildtunes_track_ends_total",
			Help: "Track end events by reason",
		}, []string{"reason"}),
		trackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildtunes_track_errors_total",
			Help: "Track exceptions and stuck tracks",
		}, []string{"kind"}),
		voiceConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildtunes_voice_connects_total",
			Help: "Voice handshakes by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.nodeConnected,
		m.nodePlayers,
		m.nodePlaying,
		m.nodeCPULoad,
		m.nodeReconnects,
		m.activeGuilds,
		m.tracksStarted,
		m.trackEnds,
		m.trackErrors,
		m.voiceConnects,
	)
	return m
}

func (m *Metrics) SetNodeConnected(node string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.nodeConnected.WithLabelValues(node).Set(v)
}

// ObserveNodeStats records the gauges of one stats push.
func (m *Metrics) ObserveNodeStats(node string, players, playing int, cpuLoad float64) {
	if m == nil {
		return
	}
	m.nodePlayers.WithLabelValues(node).Set(float64(players))
	m.nodePlaying.WithLabelValues(node).Set(float64(playing))
	m.nodeCPULoad.WithLabelValues(node).Set(cpuLoad)
}

func (m *Metrics) IncNodeDisconnects(node string) {
	if m == nil {
		return
	}
	m.nodeReconnects.WithLabelValues(node).Inc()
}

func (m *Metrics) SetActiveGuilds(n int) {
	if m == nil {
		return
	}
	m.activeGuilds.Set(float64(n))
}

func (m *Metrics) IncTracksStarted() {
	if m == nil {
		return
	}
	m.tracksStarted.Inc()
}

func (m *Metrics) IncTrackEnd(reason string) {
	if m == nil {
		return
	}
	m.trackEnds.WithLabelValues(reason).Inc()
}

// IncTrackError counts a failed track; kind is "exception" or "stuck".
func (m *Metrics) IncTrackError(kind string) {
	if m == nil {
		return
	}
	m.trackErrors.WithLabelValues(kind).Inc()
}

// IncVoiceConnect counts a finished handshake; result is "ok", "timeout" or "error".
func (m *Metrics) IncVoiceConnect(result string) {
	if m == nil {
		return
	}
	m.voiceConnects.WithLabelValues(result).Inc()
}

// Handler serves the registry. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
