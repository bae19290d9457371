// Package stream produces the live, ordered event sequence for one
// execution: a connected event, the replayed history, live entries as they
// arrive, and exactly one terminal complete event. Transport framing is
// the caller's concern; this package only dictates event content and order.
package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/internal/broker"
	"github.com/kettleops/kettle/internal/relay"
)

// DefaultPollInterval bounds completion detection latency while the live
// topic is quiet.
const DefaultPollInterval = 100 * time.Millisecond

// Event is one tagged record pushed to a stream consumer.
type Event struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id,omitempty"`
	Data        any    `json:"data,omitempty"`
	State       string `json:"state,omitempty"`
	Successful  *bool  `json:"successful,omitempty"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SendFunc delivers one event to the remote peer. A returned error means
// the peer is gone and stops the stream immediately.
type SendFunc func(Event) error

// errPeerGone is internal shorthand for a failed send; streams end quietly
// on it since peer disconnect is a normal exit, not an error.
type errPeerGone struct{}

func (errPeerGone) Error() string { return "peer gone" }

// Streamer drives execution streams over a relay and a broker.
type Streamer struct {
	relay        relay.Relay
	broker       broker.Broker
	pollInterval time.Duration
	logger       *zap.Logger
}

// New returns a Streamer polling completion every pollInterval
// (DefaultPollInterval when <= 0).
func New(r relay.Relay, b broker.Broker, pollInterval time.Duration, logger *zap.Logger) *Streamer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{relay: r, broker: b, pollInterval: pollInterval, logger: logger}
}

// Stream replays the execution's history, forwards live entries and ends
// with exactly one complete event once the broker reports a terminal
// state. It stops without a complete event when ctx is cancelled (peer
// disconnect) and unsubscribes from the live topic on every exit path.
//
// The subscription is established after the history snapshot, so a line
// written in between may be delivered twice; consumers must tolerate one
// duplicate trailing line.
func (s *Streamer) Stream(ctx context.Context, executionID string, send SendFunc) error {
	if err := send(Event{Type: kettle.EventConnected, ExecutionID: executionID}); err != nil {
		return nil
	}

	history, err := s.relay.History(ctx, executionID)
	if err != nil {
		return err
	}
	for _, entry := range history {
		if err := send(Event{Type: kettle.EventLog, Data: entry}); err != nil {
			return nil
		}
	}

	sub, err := s.relay.Subscribe(ctx, executionID)
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-sub.C():
			if !ok {
				// Live feed torn down underneath us; keep polling until the
				// execution settles so the complete event still goes out.
				return s.finish(ctx, executionID, nil, send)
			}
			if err := send(Event{Type: kettle.EventLog, Data: entry}); err != nil {
				return nil
			}
		case <-ticker.C:
		}

		status, err := s.broker.Poll(ctx, executionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if kettle.IsTerminal(status.State) {
			if err := s.complete(executionID, status, sub, send); err != nil {
				return nil
			}
			return nil
		}
	}
}

// finish polls until the execution reaches a terminal state, then emits the
// complete event. Used when the live subscription ends early.
func (s *Streamer) finish(ctx context.Context, executionID string, sub relay.Subscription, send SendFunc) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		status, err := s.broker.Poll(ctx, executionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if kettle.IsTerminal(status.State) {
			_ = s.complete(executionID, status, sub, send)
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// complete drains entries already buffered on the live feed, then emits the
// single terminal event. The complete event is guaranteed to be the last
// event this stream instance emits.
func (s *Streamer) complete(executionID string, status broker.Status, sub relay.Subscription, send SendFunc) error {
	if sub != nil {
	drain:
		for {
			select {
			case entry, ok := <-sub.C():
				if !ok {
					break drain
				}
				if err := send(Event{Type: kettle.EventLog, Data: entry}); err != nil {
					return errPeerGone{}
				}
			default:
				break drain
			}
		}
	}

	successful := status.State == kettle.StateSuccess
	event := Event{
		Type:       kettle.EventComplete,
		State:      status.State,
		Successful: &successful,
	}
	if successful {
		event.Result = status.Info
	} else if status.Info != nil {
		if msg, ok := status.Info.(string); ok {
			event.Error = msg
		} else {
			event.Error = status.State
		}
	}
	if err := send(event); err != nil {
		return errPeerGone{}
	}
	s.logger.Debug("stream complete",
		zap.String("execution_id", executionID),
		zap.String("state", status.State))
	return nil
}
