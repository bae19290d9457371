// Package relay carries an execution's output to observers. Each execution
// id keys two co-located structures: a live pub/sub topic for fan-out and
// an append-only history used to replay for late joiners. Channels are
// created implicitly on first write and garbage-collected by a retention
// TTL; nothing ever deletes them explicitly.
package relay

import (
	"context"
	"time"

	"github.com/kettleops/kettle"
)

// DefaultRetention is how long an execution's history survives after the
// last write.
const DefaultRetention = time.Hour

// Subscription is a live feed of log entries for one execution id. Close
// must be called on every exit path.
type Subscription interface {
	// C delivers entries in publish order. It is closed when the
	// subscription is closed.
	C() <-chan kettle.LogEntry
	Close() error
}

// Relay is the write and read surface of the log relay.
//
// Publish is best-effort: failures are swallowed and diagnosed to a
// fallback sink, never propagated to the publishing action. A reader that
// replays History and then Subscribes observes the exact written sequence,
// except that a line written between the snapshot and the subscription
// taking effect may be delivered twice.
type Relay interface {
	Publish(ctx context.Context, executionID string, entry kettle.LogEntry)
	History(ctx context.Context, executionID string) ([]kettle.LogEntry, error)
	Subscribe(ctx context.Context, executionID string) (Subscription, error)
}
