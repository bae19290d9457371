package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kettleops/kettle"
)

// Memory is an in-process Relay with the same replay-then-subscribe
// semantics as the Redis implementation. It backs unit tests and
// single-process deployments.
type Memory struct {
	retention time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	topics map[string]*memTopic
}

type memTopic struct {
	entries   []kettle.LogEntry
	subs      map[*memSubscription]struct{}
	expiresAt time.Time
}

// NewMemory returns an in-memory relay with the given retention TTL.
func NewMemory(retention time.Duration, logger *zap.Logger) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		retention: retention,
		logger:    logger,
		topics:    make(map[string]*memTopic),
	}
}

// topic returns the live topic for an execution id, creating it on first
// use and dropping it lazily once its retention window has passed. Only
// writes refresh the retention window; reads observe it.
func (m *Memory) topic(executionID string, create bool) *memTopic {
	t, ok := m.topics[executionID]
	if ok && time.Now().After(t.expiresAt) && len(t.subs) == 0 {
		delete(m.topics, executionID)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		t = &memTopic{
			subs:      make(map[*memSubscription]struct{}),
			expiresAt: time.Now().Add(m.retention),
		}
		m.topics[executionID] = t
	}
	return t
}

// Publish appends entry to the history, refreshes its retention window and
// fans it out to live subscribers.
func (m *Memory) Publish(_ context.Context, executionID string, entry kettle.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(executionID, true)
	t.expiresAt = time.Now().Add(m.retention)
	t.entries = append(t.entries, entry)
	for sub := range t.subs {
		select {
		case sub.ch <- entry:
		default:
			m.logger.Warn("relay: dropped entry, slow subscriber",
				zap.String("execution_id", executionID))
		}
	}
}

// History returns the retained entries for the execution, in write order.
func (m *Memory) History(_ context.Context, executionID string) ([]kettle.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(executionID, false)
	if t == nil {
		return nil, nil
	}
	out := make([]kettle.LogEntry, len(t.entries))
	copy(out, t.entries)
	return out, nil
}

// Subscribe opens a live subscription for the execution id.
func (m *Memory) Subscribe(_ context.Context, executionID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(executionID, true)
	sub := &memSubscription{
		relay:       m,
		executionID: executionID,
		ch:          make(chan kettle.LogEntry, 256),
	}
	t.subs[sub] = struct{}{}
	return sub, nil
}

type memSubscription struct {
	relay       *Memory
	executionID string
	ch          chan kettle.LogEntry
	closeOnce   sync.Once
}

func (s *memSubscription) C() <-chan kettle.LogEntry {
	return s.ch
}

func (s *memSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.relay.mu.Lock()
		if t, ok := s.relay.topics[s.executionID]; ok {
			delete(t.subs, s)
		}
		s.relay.mu.Unlock()
		close(s.ch)
	})
	return nil
}
