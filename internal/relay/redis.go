package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kettleops/kettle"
)

const (
	channelPrefix = "kettle:logs:"
	historySuffix = ":history"
)

func liveChannel(executionID string) string {
	return channelPrefix + executionID
}

func historyKey(executionID string) string {
	return channelPrefix + executionID + historySuffix
}

// Redis is a Relay backed by a shared Redis: PUBLISH on the live channel,
// RPUSH onto the history list with its TTL refreshed on every append.
type Redis struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    *zap.Logger
}

// NewRedis returns a Redis relay. retention <= 0 falls back to
// DefaultRetention. logger is the fallback diagnostic sink for swallowed
// publish failures.
func NewRedis(client redis.UniversalClient, retention time.Duration, logger *zap.Logger) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, retention: retention, logger: logger}
}

// Publish appends entry to the execution's history and fans it out to live
// subscribers. Failures never reach the caller.
func (r *Redis) Publish(ctx context.Context, executionID string, entry kettle.LogEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("relay: encode log entry", zap.String("execution_id", executionID), zap.Error(err))
		return
	}

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, liveChannel(executionID), payload)
	pipe.RPush(ctx, historyKey(executionID), payload)
	pipe.Expire(ctx, historyKey(executionID), r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("relay: publish log entry", zap.String("execution_id", executionID), zap.Error(err))
	}
}

// History returns every retained entry for the execution, in write order.
func (r *Redis) History(ctx context.Context, executionID string) ([]kettle.LogEntry, error) {
	raw, err := r.client.LRange(ctx, historyKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relay: read history for %s: %w", executionID, err)
	}
	entries := make([]kettle.LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry kettle.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			r.logger.Warn("relay: decode history entry", zap.String("execution_id", executionID), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Subscribe opens a live subscription on the execution's channel.
func (r *Redis) Subscribe(ctx context.Context, executionID string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, liveChannel(executionID))
	// Force the subscription onto the wire before returning so replayed
	// history and the live feed overlap by at most one entry.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("relay: subscribe to %s: %w", executionID, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan kettle.LogEntry, 64),
	}
	go sub.pump(r.logger, executionID)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan kettle.LogEntry
}

func (s *redisSubscription) pump(logger *zap.Logger, executionID string) {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var entry kettle.LogEntry
		if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
			logger.Warn("relay: decode live entry", zap.String("execution_id", executionID), zap.Error(err))
			continue
		}
		s.ch <- entry
	}
}

func (s *redisSubscription) C() <-chan kettle.LogEntry {
	return s.ch
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
