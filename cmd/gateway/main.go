package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/feed"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/tickfeed/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	clock := clockwork.NewRealClock()

	var source feed.Source = feed.NewStaticSource(cfg.Feed.Price, cfg.Feed.Quantity, clock)
	if cfg.Feed.Source == config.SourceRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := repository.NewRedisStore(rdb)
		defer store.Close()

		// An unreachable Redis only degrades the feed to the static fallback
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis unavailable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		source = feed.NewCachedSource(store, source, clock, logger)
	}

	wsHub := hub.NewHub(logger, clock)
	srv := gateway.NewServer(gateway.Options{
		Addr: cfg.App.Addr(),
		Session: gateway.SessionConfig{
			Symbol:         cfg.Feed.Symbol,
			Interval:       cfg.Feed.Interval,
			PingPeriod:     cfg.Session.PingPeriod,
			WriteWait:      cfg.Session.WriteWait,
			MaxMessageSize: cfg.Session.MaxMessageSize,
		},
		StatusInterval: cfg.Session.StatusInterval,
	}, wsHub, source, logger, clock)

	if err := srv.Listen(); err != nil {
		logger.Fatal("Failed to bind", zap.String("addr", cfg.App.Addr()), zap.Error(err))
	}
	logger.Info("Starting WebSocket server",
		zap.String("url", "ws://"+srv.Addr().String()),
		zap.String("symbol", cfg.Feed.Symbol),
		zap.Duration("interval", cfg.Feed.Interval),
		zap.String("source", cfg.Feed.Source))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
