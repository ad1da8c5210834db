// Command streaming starts one streaming gateway worker: it fans the Redis
// event bus out to SSE and WebSocket clients.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/XueKirby/mastodon-streaming/internal/api"
	"github.com/XueKirby/mastodon-streaming/internal/auth"
	"github.com/XueKirby/mastodon-streaming/internal/config"
	"github.com/XueKirby/mastodon-streaming/internal/db"
	"github.com/XueKirby/mastodon-streaming/internal/observability/logging"
	"github.com/XueKirby/mastodon-streaming/internal/server"
	"github.com/XueKirby/mastodon-streaming/internal/streaming"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	logFormat := string(logging.FormatText)
	if cfg.Production() {
		logFormat = string(logging.FormatJSON)
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: logFormat})

	if err := cfg.ValidateRedisURL(); err != nil {
		logger.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("open postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := db.NewRedisClient(cfg)
	if err != nil {
		logger.Error("open redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	upstream := streaming.NewRedisUpstream(redisClient, logging.WithComponent(logger, "upstream"))
	bus := streaming.NewBus(streaming.BusConfig{
		Upstream: upstream,
		Prefix:   cfg.ChannelPrefix(),
		Logger:   logging.WithComponent(logger, "bus"),
	})
	heartbeats := streaming.NewHeartbeater(streaming.HeartbeatConfig{
		Store:  streaming.NewRedisMarkerStore(redisClient, cfg.ChannelPrefix()),
		Logger: logging.WithComponent(logger, "heartbeat"),
	})
	resolver := auth.NewResolver(pool, logging.WithComponent(logger, "auth"))
	filter := streaming.NewFilter(pool, logging.WithComponent(logger, "filter"))

	handler := api.NewHandler(api.HandlerConfig{
		Auth:              resolver,
		Bus:               bus,
		Heartbeats:        heartbeats,
		Filter:            filter,
		Logger:            logging.WithComponent(logger, "api"),
		AlwaysRequireAuth: cfg.AlwaysRequireAuth,
		TrustedProxyIP:    cfg.TrustedProxyIP,
	})
	srv := server.New(handler.Routes(), server.Config{
		Addr:       cfg.BindAddr,
		SocketPath: cfg.SocketPath,
		Logger:     logging.WithComponent(logger, "server"),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return upstream.Run(groupCtx, bus)
	})
	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
