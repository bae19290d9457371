// The worker claims tasks from its queues, runs action bodies and relays
// their output. It optionally announces its catalog over MQTT so
// coordinators discover what it can run.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kettleops/kettle/actions"
	"github.com/kettleops/kettle/catalog"
	"github.com/kettleops/kettle/internal/announce"
	"github.com/kettleops/kettle/internal/broker"
	"github.com/kettleops/kettle/internal/config"
	"github.com/kettleops/kettle/internal/relay"
	"github.com/kettleops/kettle/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker exited", zap.Error(err))
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
	logger.Info("registered actions",
		zap.Int("count", registry.Len()),
		zap.Strings("queues", cfg.Queues))

	if cfg.MQTTBroker != "" {
		announcer, err := announce.NewAnnouncer(cfg.MQTTBroker, logger)
		if err != nil {
			return err
		}
		if err := announcer.Announce(registry); err != nil {
			return err
		}
		defer func() {
			announcer.Clear(registry)
			announcer.Close()
		}()
	}

	rly := relay.NewRedis(client, cfg.LogRetention, logger)
	brk := broker.NewRedis(client, cfg.ResultRetention)
	runner := worker.New(brk, rly, registry, logger, worker.Options{
		Queues:      cfg.Queues,
		Concurrency: cfg.Concurrency,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker running")
	return runner.Run(ctx)
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
