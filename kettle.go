// Package kettle holds the shared types of the kettle automation platform:
// action descriptors, execution lifecycle states, log entries and the
// stream event vocabulary exchanged between coordinator and workers.
package kettle

import (
	"context"
	"fmt"
	"time"
)

// Lifecycle states of an execution. PENDING, STARTED are transient;
// SUCCESS, FAILURE and REVOKED are terminal and never change again.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateRevoked = "REVOKED"
)

// IsTerminal reports whether a state will never transition again.
func IsTerminal(state string) bool {
	switch state {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	}
	return false
}

// Stream event types emitted by the execution stream endpoint.
const (
	EventConnected = "connected"
	EventLog       = "log"
	EventComplete  = "complete"
)

// DefaultQueue is the queue actions are routed to when their descriptor
// does not name one.
const DefaultQueue = "default"

// LogEntry is a single line of action output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CallDepth int       `json:"call_depth"`
}

// Result is the terminal record of an execution as held by the broker's
// result store.
type Result struct {
	State  string `json:"state"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Param describes one declared parameter of an action.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required"`
}

// Descriptor is the immutable metadata of a registered action. Params
// preserve declaration order for form generation.
type Descriptor struct {
	Name        string  `json:"name"`
	Group       string  `json:"group"`
	Description string  `json:"description"`
	Queue       string  `json:"queue"`
	Params      []Param `json:"parameters"`
}

// HandlerFunc is the body of an action. Parameters arrive as decoded JSON;
// type coercion is the handler's responsibility. The returned value becomes
// the execution's success result.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Action pairs a descriptor with its handler.
type Action struct {
	Descriptor
	Handler HandlerFunc
}

// Invoker performs an in-process nested action invocation under the current
// execution id with an incremented call depth. The worker runner installs
// one into the context before running an action body.
type Invoker interface {
	Invoke(ctx context.Context, name string, params map[string]any) (any, error)
}

type invokerKey struct{}

// WithInvoker returns a context carrying inv.
func WithInvoker(ctx context.Context, inv Invoker) context.Context {
	return context.WithValue(ctx, invokerKey{}, inv)
}

// Call invokes another registered action in-process, sharing the current
// execution id with call depth incremented by one. It fails when no invoker
// is bound, i.e. outside a worker run.
func Call(ctx context.Context, name string, params map[string]any) (any, error) {
	inv, ok := ctx.Value(invokerKey{}).(Invoker)
	if !ok {
		return nil, fmt.Errorf("no invoker bound, nested call to %q outside an execution", name)
	}
	return inv.Invoke(ctx, name, params)
}
