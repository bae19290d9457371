// Package dispatch validates requested actions against the catalog and
// hands them to the broker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/catalog"
	"github.com/kettleops/kettle/internal/broker"
)

// ErrActionNotFound marks a dispatch of a name absent from the catalog.
// It never reaches the broker.
var ErrActionNotFound = errors.New("action not found")

// DefaultSyncTimeout bounds DispatchSync waits, matching the synchronous
// execute endpoint's timeout.
const DefaultSyncTimeout = 30 * time.Second

// DefaultPollInterval is the tick used when waiting on a terminal state.
const DefaultPollInterval = 100 * time.Millisecond

// ExecStatus is the status record returned for an execution.
type ExecStatus struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
	Info        any    `json:"info"`
	Ready       bool   `json:"ready"`
	// Successful is nil until the execution is ready.
	Successful *bool `json:"successful"`
}

// Dispatcher submits catalog actions to the broker and reads back their
// lifecycle state.
type Dispatcher struct {
	registry     *catalog.Registry
	broker       broker.Broker
	syncTimeout  time.Duration
	pollInterval time.Duration
}

// New returns a Dispatcher over the given catalog and broker.
func New(registry *catalog.Registry, b broker.Broker) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		broker:       b,
		syncTimeout:  DefaultSyncTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// WithSyncTimeout overrides the DispatchSync deadline.
func (d *Dispatcher) WithSyncTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.syncTimeout = timeout
	}
	return d
}

// Dispatch submits the named action with raw parameters to its descriptor's
// queue and returns the execution id. Parameters are passed through without
// schema validation; coercion is the action body's concern.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) (string, error) {
	act, ok := d.registry.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return d.broker.Submit(ctx, name, params, act.Queue)
}

// DispatchSync submits the action and blocks until the broker reports a
// terminal state or the sync timeout elapses.
func (d *Dispatcher) DispatchSync(ctx context.Context, name string, params map[string]any) (string, broker.Status, error) {
	execID, err := d.Dispatch(ctx, name, params)
	if err != nil {
		return "", broker.Status{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.syncTimeout)
	defer cancel()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		status, err := d.broker.Poll(waitCtx, execID)
		if err != nil {
			return execID, broker.Status{}, err
		}
		if kettle.IsTerminal(status.State) {
			return execID, status, nil
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return execID, broker.Status{}, fmt.Errorf("execution %s: %w", execID, waitCtx.Err())
		}
	}
}

// Cancel requests best-effort revocation with a forceful termination
// signal. It never retries and never waits for the worker to stop.
func (d *Dispatcher) Cancel(ctx context.Context, executionID string) error {
	return d.broker.Revoke(ctx, executionID, true)
}

// Status reads the broker-held state. Unknown ids are indistinguishable
// from not-yet-started ones and report PENDING.
func (d *Dispatcher) Status(ctx context.Context, executionID string) (ExecStatus, error) {
	status, err := d.broker.Poll(ctx, executionID)
	if err != nil {
		return ExecStatus{}, err
	}
	out := ExecStatus{
		ExecutionID: executionID,
		State:       status.State,
		Info:        status.Info,
		Ready:       kettle.IsTerminal(status.State),
	}
	if out.Ready {
		ok := status.State == kettle.StateSuccess
		out.Successful = &ok
	}
	return out, nil
}
