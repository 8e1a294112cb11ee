package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"guildtunes/internal/models"
)

type Config struct {
	DiscordToken  string `env:"DISCORD_TOKEN,required,notEmpty"`
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:":7935"`
	DBPath        string `env:"DB_PATH" envDefault:"./data/guildtunes.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"./migrations"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	CORSOrigin    string `env:"CORS_ORIGIN"`

	// LavalinkNodes is a comma separated list of name=scheme://password@host:port.
	LavalinkNodes  string        `env:"LAVALINK_NODES,required,notEmpty"`
	ReconnectDelay time.Duration `env:"LAVALINK_RECONNECT_DELAY" envDefault:"5s"`
	MaxReconnects  int           `env:"LAVALINK_MAX_RECONNECTS" envDefault:"10"`
	ResumeTimeout  time.Duration `env:"LAVALINK_RESUME_TIMEOUT" envDefault:"60s"`

	SearchPrefix     string        `env:"SEARCH_PREFIX" envDefault:"ytsearch"`
	VoiceTimeout     time.Duration `env:"VOICE_TIMEOUT" envDefault:"15s"`
	IdleTimeout      time.Duration `env:"IDLE_TIMEOUT" envDefault:"30s"`
	StatsInterval    time.Duration `env:"STATS_REFRESH_INTERVAL" envDefault:"1m"`
	HistoryRetention int           `env:"HISTORY_RETENTION_DAYS" envDefault:"90"`

	AlertDiscordWebhookURL string `env:"ALERT_DISCORD_WEBHOOK_URL"`
	AlertWebhookURL        string `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookToken      string `env:"ALERT_WEBHOOK_TOKEN"`
	AlertNtfyURL           string `env:"ALERT_NTFY_URL"`
	AlertNtfyToken         string `env:"ALERT_NTFY_TOKEN"`
}

type NodeConfig struct {
	Name     string
	Host     string
	Port     int
	Password string
	Secure   bool
}

// Load reads .env files when present, then parses the environment.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Nodes(); err != nil {
		return err
	}
	if c.VoiceTimeout <= 0 {
		return errors.New("VOICE_TIMEOUT must be positive")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("IDLE_TIMEOUT must be positive")
	}
	if c.MaxReconnects < 1 {
		return errors.New("LAVALINK_MAX_RECONNECTS must be at least 1")
	}
	for _, ch := range c.AlertChannels() {
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Nodes parses LavalinkNodes. The name prefix is optional and defaults to
// the host.
func (c *Config) Nodes() ([]NodeConfig, error) {
	var nodes []NodeConfig
	seen := make(map[string]bool)
	for _, raw := range strings.Split(c.LavalinkNodes, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := parseNode(raw)
		if err != nil {
			return nil, fmt.Errorf("LAVALINK_NODES: %w", err)
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("LAVALINK_NODES: duplicate node name %q", n.Name)
		}
		seen[n.Name] = true
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, errors.New("LAVALINK_NODES: at least one node is required")
	}
	return nodes, nil
}

func parseNode(raw string) (NodeConfig, error) {
	var n NodeConfig
	if name, rest, ok := strings.Cut(raw, "="); ok && !strings.Contains(name, "://") {
		n.Name, raw = strings.TrimSpace(name), rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return n, fmt.Errorf("invalid node %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "ws":
	case "https", "wss":
		n.Secure = true
	default:
		return n, fmt.Errorf("node %q: scheme must be http or https", raw)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return n, fmt.Errorf("node %q: host must include a port", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return n, fmt.Errorf("node %q: invalid port %q", raw, portStr)
	}
	if u.User == nil || u.User.Username() == "" {
		return n, fmt.Errorf("node %q: password is required", raw)
	}
	n.Host, n.Port, n.Password = host, port, u.User.Username()
	if n.Name == "" {
		n.Name = host
	}
	return n, nil
}

// AlertChannels lists the configured node alert destinations.
func (c *Config) AlertChannels() []models.AlertChannel {
	var out []models.AlertChannel
	if c.AlertDiscordWebhookURL != "" {
		out = append(out, models.AlertChannel{Name: "discord", Type: models.ChannelTypeDiscord, URL: c.AlertDiscordWebhookURL})
	}
	if c.AlertWebhookURL != "" {
		out = append(out, models.AlertChannel{Name: "webhook", Type: models.ChannelTypeWebhook, URL: c.AlertWebhookURL, Token: c.AlertWebhookToken})
	}
	if c.AlertNtfyURL != "" {
		out = append(out, models.AlertChannel{Name: "ntfy", Type: models.ChannelTypeNtfy, URL: c.AlertNtfyURL, Token: c.AlertNtfyToken})
	}
	return out
}
