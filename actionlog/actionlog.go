// Package actionlog carries the execution context (execution id and call
// depth) through an action's call chain and provides the write path into
// the log relay. Output emitted with no execution context stays on the
// local console and is never relayed.
package actionlog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kettleops/kettle"
)

// Level names used on relayed entries.
const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)

// Emitter receives every relayed log entry for an execution. The worker
// binds one that forwards into the relay; absence of an emitter makes
// emission a local no-op with respect to the relay.
type Emitter func(execID string, entry kettle.LogEntry)

type ctxKey struct{}

type execContext struct {
	executionID string
	callDepth   int
	emit        Emitter
}

// WithContext binds an execution id, call depth and emitter to the context.
// Called by the worker runner immediately before invoking an action body.
func WithContext(ctx context.Context, executionID string, callDepth int, emit Emitter) context.Context {
	return context.WithValue(ctx, ctxKey{}, execContext{
		executionID: executionID,
		callDepth:   callDepth,
		emit:        emit,
	})
}

// FromContext returns the current execution id and call depth. The id is
// empty outside any tracked execution.
func FromContext(ctx context.Context) (executionID string, callDepth int) {
	ec, ok := ctx.Value(ctxKey{}).(execContext)
	if !ok {
		return "", 0
	}
	return ec.executionID, ec.callDepth
}

// Nested derives a context for an in-process nested action invocation:
// same execution id and emitter, call depth incremented by one.
func Nested(ctx context.Context) context.Context {
	ec, ok := ctx.Value(ctxKey{}).(execContext)
	if !ok {
		return ctx
	}
	ec.callDepth++
	return context.WithValue(ctx, ctxKey{}, ec)
}

// Print emits a single line of action output at INFO level.
func Print(ctx context.Context, args ...any) {
	emit(ctx, LevelInfo, fmt.Sprint(args...))
}

// Printf emits a formatted line of action output at INFO level.
func Printf(ctx context.Context, format string, args ...any) {
	emit(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

// Errorf emits a formatted line at ERROR level.
func Errorf(ctx context.Context, format string, args ...any) {
	emit(ctx, LevelError, fmt.Sprintf(format, args...))
}

func emit(ctx context.Context, level, message string) {
	message = strings.TrimRight(message, " \t\r\n")
	if message == "" {
		return
	}
	ec, ok := ctx.Value(ctxKey{}).(execContext)
	if !ok || ec.executionID == "" || ec.emit == nil {
		// No execution context: local console only.
		fmt.Fprintln(os.Stdout, message)
		return
	}
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		ec.emit(ec.executionID, kettle.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     level,
			Message:   line,
			CallDepth: ec.callDepth,
		})
	}
}
