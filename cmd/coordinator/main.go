// The coordinator exposes the HTTP API: it lists the action catalog,
// dispatches executions to the worker pool through the broker and streams
// their output back over SSE.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kettleops/kettle/actions"
	"github.com/kettleops/kettle/catalog"
	"github.com/kettleops/kettle/internal/announce"
	"github.com/kettleops/kettle/internal/broker"
	"github.com/kettleops/kettle/internal/config"
	"github.com/kettleops/kettle/internal/dispatch"
	"github.com/kettleops/kettle/internal/relay"
	"github.com/kettleops/kettle/internal/schedule"
	"github.com/kettleops/kettle/internal/server"
	"github.com/kettleops/kettle/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("coordinator exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	defer client.Close()

	registry := catalog.New()
	actions.Register(registry)
	logger.Info("registered local actions", zap.Int("count", registry.Len()))

	if cfg.MQTTBroker != "" {
		discoverer, err := announce.NewDiscoverer(cfg.MQTTBroker, registry, logger)
		if err != nil {
			return err
		}
		defer discoverer.Close()
		logger.Info("action discovery enabled", zap.String("mqtt", cfg.MQTTBroker))
	}

	rly := relay.NewRedis(client, cfg.LogRetention, logger)
	brk := broker.NewRedis(client, cfg.ResultRetention)
	dispatcher := dispatch.New(registry, brk).WithSyncTimeout(cfg.SyncTimeout)
	streamer := stream.New(rly, brk, cfg.StreamPollInterval, logger)

	if len(cfg.Schedules) > 0 {
		scheduler, err := schedule.New(cfg.Schedules, dispatcher, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("scheduler started", zap.Int("entries", len(cfg.Schedules)))
	}

	ping := func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	srv := server.New(registry, dispatcher, streamer, ping, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", zap.Int("port", cfg.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("coordinator stopped")
	return nil
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
