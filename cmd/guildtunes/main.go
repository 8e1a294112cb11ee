package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"guildtunes/internal/config"
	"guildtunes/internal/coordinator"
	"guildtunes/internal/discord"
	"guildtunes/internal/lavalink"
	"guildtunes/internal/logger"
	"guildtunes/internal/metrics"
	"guildtunes/internal/notifier"
	"guildtunes/internal/pool"
	"guildtunes/internal/scheduler"
	"guildtunes/internal/server"
	"guildtunes/internal/store"
	"guildtunes/internal/voice"
)

const (
	readyTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logger.New(cfg.LogLevel, cfg.LogFormat))

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return err
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(cfg.MigrationsDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	alerts := notifier.New(cfg.AlertChannels())

	bot, err := discord.New(cfg.DiscordToken)
	if err != nil {
		return err
	}
	vm := voice.NewManager(bot, voice.WithTimeout(cfg.VoiceTimeout), voice.WithMetrics(m))
	unbind := bot.Bind(vm)
	defer unbind()

	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	botID, err := bot.Open(readyCtx)
	cancelReady()
	if err != nil {
		return err
	}
	defer bot.Close()
	slog.Info("connected to discord", "user", botID)

	poolOpts := []pool.Option{pool.WithMetrics(m)}
	if alerts.Enabled() {
		poolOpts = append(poolOpts, pool.WithAlerter(alerts))
	}
	nodes := pool.New[*lavalink.Node](poolOpts...)
	nodeCfgs, err := cfg.Nodes()
	if err != nil {
		return err
	}
	for _, nc := range nodeCfgs {
		nodes.Add(lavalink.New(lavalink.Config{
			Name:           nc.Name,
			Host:           nc.Host,
			Port:           nc.Port,
			Password:       nc.Password,
			Secure:         nc.Secure,
			UserID:         botID,
			ReconnectDelay: cfg.ReconnectDelay,
			MaxReconnects:  cfg.MaxReconnects,
			ResumeTimeout:  cfg.ResumeTimeout,
		}))
	}
	nodes.Start(ctx)
	defer nodes.Stop()

	coord := coordinator.New(coordinator.FromPool(nodes), vm, bot,
		coordinator.WithAnnouncer(bot),
		coordinator.WithStore(s),
		coordinator.WithMetrics(m),
		coordinator.WithSearchPrefix(cfg.SearchPrefix),
		coordinator.WithIdleTimeout(cfg.IdleTimeout),
	)
	coord.Start(ctx, nodes.Events())
	defer coord.Shutdown()

	sch := scheduler.New(nodes, s,
		scheduler.WithStatsInterval(cfg.StatsInterval),
		scheduler.WithRetention(time.Duration(cfg.HistoryRetention)*24*time.Hour),
	)
	sch.Start(ctx)
	defer sch.Stop()

	opts := []server.Option{
		server.WithPlayers(coord),
		server.WithNodes(nodes),
		server.WithMetrics(m.Handler(func() { m.SetActiveGuilds(coord.ActiveGuilds()) })),
	}
	if cfg.CORSOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(cfg.CORSOrigin))
	}
	srv := server.NewServer(s, opts...)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("guildtunes listening", "addr", cfg.ListenAddr, "nodes", len(nodeCfgs))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
