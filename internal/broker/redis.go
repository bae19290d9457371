package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kettleops/kettle"
)

const (
	queuePrefix    = "kettle:queue:"
	taskPrefix     = "kettle:task:"
	revokedSetKey  = "kettle:revoked"
	controlChannel = "kettle:control"
)

// DefaultResultRetention bounds how long terminal results stay queryable.
const DefaultResultRetention = 24 * time.Hour

// ControlMessage is broadcast on the control channel when a running
// execution should be terminated.
type ControlMessage struct {
	ExecutionID string `json:"execution_id"`
	Signal      string `json:"signal"`
}

// Redis implements Broker over a shared Redis: queues are lists consumed
// with BRPOP, results live in per-task records with a TTL, revocation is a
// set membership plus a control channel broadcast.
type Redis struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedis returns a Redis broker. retention <= 0 falls back to
// DefaultResultRetention.
func NewRedis(client redis.UniversalClient, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = DefaultResultRetention
	}
	return &Redis{client: client, retention: retention}
}

func queueKey(queue string) string {
	return queuePrefix + queue
}

func taskKey(executionID string) string {
	return taskPrefix + executionID
}

// Submit assigns an execution id and pushes the task envelope onto the
// queue. No result record is written: an unclaimed task polls as PENDING.
func (b *Redis) Submit(ctx context.Context, action string, params map[string]any, queue string) (string, error) {
	if queue == "" {
		queue = kettle.DefaultQueue
	}
	task := Task{
		ID:     uuid.New().String(),
		Action: action,
		Params: params,
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task for %s: %w", action, err)
	}
	if err := b.client.LPush(ctx, queueKey(queue), payload).Err(); err != nil {
		return "", fmt.Errorf("%w: submit %s to %s: %v", ErrUnavailable, action, queue, err)
	}
	return task.ID, nil
}

// Poll reads the task's current state. A missing record reports PENDING.
func (b *Redis) Poll(ctx context.Context, executionID string) (Status, error) {
	raw, err := b.client.Get(ctx, taskKey(executionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Status{State: kettle.StatePending}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("%w: poll %s: %v", ErrUnavailable, executionID, err)
	}

	var rec kettle.Result
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Status{}, fmt.Errorf("decode task record %s: %w", executionID, err)
	}

	status := Status{State: rec.State}
	switch rec.State {
	case kettle.StateSuccess:
		status.Info = rec.Result
	case kettle.StateFailure, kettle.StateRevoked:
		if rec.Error != "" {
			status.Info = rec.Error
		}
	}
	return status, nil
}

// Revoke marks the execution revoked and, with terminate, broadcasts a
// termination signal to workers. Best-effort: a worker already past its
// cancellable checkpoint may still run to completion.
func (b *Redis) Revoke(ctx context.Context, executionID string, terminate bool) error {
	pipe := b.client.Pipeline()
	pipe.SAdd(ctx, revokedSetKey, executionID)
	pipe.Expire(ctx, revokedSetKey, b.retention)
	if terminate {
		msg, _ := json.Marshal(ControlMessage{ExecutionID: executionID, Signal: "terminate"})
		pipe.Publish(ctx, controlChannel, msg)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: revoke %s: %v", ErrUnavailable, executionID, err)
	}
	return nil
}

// Claim pops the next task from any of the given queues, blocking up to
// timeout. Returns nil with no error when the timeout elapses empty.
func (b *Redis) Claim(ctx context.Context, queues []string, timeout time.Duration) (*Task, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}
	res, err := b.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: claim from %v: %v", ErrUnavailable, queues, err)
	}
	// BRPOP returns [key, payload].
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task envelope: %w", err)
	}
	return &task, nil
}

// SetState writes the task's lifecycle record, refusing to overwrite a
// state that is already terminal.
func (b *Redis) SetState(ctx context.Context, executionID string, rec kettle.Result) error {
	current, err := b.Poll(ctx, executionID)
	if err == nil && kettle.IsTerminal(current.State) {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task record %s: %w", executionID, err)
	}
	if err := b.client.Set(ctx, taskKey(executionID), payload, b.retention).Err(); err != nil {
		return fmt.Errorf("%w: set state for %s: %v", ErrUnavailable, executionID, err)
	}
	return nil
}

// IsRevoked reports whether the execution has been marked revoked.
func (b *Redis) IsRevoked(ctx context.Context, executionID string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, revokedSetKey, executionID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: revoked check for %s: %v", ErrUnavailable, executionID, err)
	}
	return ok, nil
}

// Control subscribes to the control channel and delivers decoded messages
// until ctx ends.
func (b *Redis) Control(ctx context.Context) (<-chan ControlMessage, error) {
	pubsub := b.client.Subscribe(ctx, controlChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe control channel: %v", ErrUnavailable, err)
	}

	out := make(chan ControlMessage)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var cm ControlMessage
				if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
					continue
				}
				select {
				case out <- cm:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
