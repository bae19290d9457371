// Package broker hands tasks to the worker pool and tracks their lifecycle
// state. Queues are named; a task envelope carries the action name and raw
// parameters. The result store keeps the current state, success payload or
// failure detail for a bounded retention window.
package broker

import (
	"context"
	"errors"
)

// ErrUnavailable marks transport or connection failures talking to the
// broker. Callers surface it immediately and never retry inside this layer.
var ErrUnavailable = errors.New("broker unavailable")

// Task is the envelope placed on a queue at submission time. Nested
// invocations never pass through here; they run in-process on the worker,
// so every queued task starts at call depth zero.
type Task struct {
	ID     string         `json:"id"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Status is the broker-held view of an execution.
type Status struct {
	State string `json:"state"`
	// Info is whatever result or failure payload the broker currently
	// associates with the task: the success result for SUCCESS, the error
	// text for FAILURE, nil otherwise.
	Info any `json:"info"`
}

// Broker is the narrow operation set the core touches.
type Broker interface {
	// Submit enqueues a task for the named action on the named queue and
	// returns the opaque execution id assigned to it.
	Submit(ctx context.Context, action string, params map[string]any, queue string) (string, error)

	// Poll reads the current lifecycle state. Unknown ids report PENDING:
	// the result store cannot distinguish "unknown" from "not yet started".
	Poll(ctx context.Context, executionID string) (Status, error)

	// Revoke requests best-effort cancellation. terminate additionally
	// signals a running worker to abort the action body. Revoke never
	// blocks waiting for the worker to stop and never alters a state that
	// is already terminal.
	Revoke(ctx context.Context, executionID string, terminate bool) error
}
