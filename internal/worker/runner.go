// Package worker runs action bodies inside a pool worker: it claims tasks
// from the broker's queues, binds the execution context, relays output,
// and records the terminal state.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/actionlog"
	"github.com/kettleops/kettle/catalog"
	"github.com/kettleops/kettle/internal/broker"
	"github.com/kettleops/kettle/internal/relay"
)

// Source is the worker-facing slice of the broker.
type Source interface {
	Claim(ctx context.Context, queues []string, timeout time.Duration) (*broker.Task, error)
	SetState(ctx context.Context, executionID string, rec kettle.Result) error
	IsRevoked(ctx context.Context, executionID string) (bool, error)
	Control(ctx context.Context) (<-chan broker.ControlMessage, error)
}

// Options tune a Runner.
type Options struct {
	// Queues this worker consumes. Defaults to the default queue.
	Queues []string
	// Concurrency is the number of task loops. Defaults to 4.
	Concurrency int
	// ClaimTimeout bounds each blocking claim. Defaults to 2s.
	ClaimTimeout time.Duration
}

// Runner executes claimed tasks against a catalog of registered actions.
type Runner struct {
	source   Source
	relay    relay.Relay
	registry *catalog.Registry
	logger   *zap.Logger
	opts     Options

	emitOnce sync.Once
	emit     actionlog.Emitter

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New returns a Runner consuming opts.Queues.
func New(source Source, r relay.Relay, registry *catalog.Registry, logger *zap.Logger, opts Options) *Runner {
	if len(opts.Queues) == 0 {
		opts.Queues = []string{kettle.DefaultQueue}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:   source,
		relay:    r,
		registry: registry,
		logger:   logger,
		opts:     opts,
		running:  make(map[string]context.CancelFunc),
	}
}

// Run consumes tasks until ctx is cancelled. It blocks.
func (r *Runner) Run(ctx context.Context) error {
	// Relay plumbing is shared by every task this process ever runs.
	r.emitOnce.Do(func() {
		r.emit = func(execID string, entry kettle.LogEntry) {
			r.relay.Publish(ctx, execID, entry)
		}
	})

	control, err := r.source.Control(ctx)
	if err != nil {
		return err
	}
	go r.watchControl(ctx, control)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := r.source.Claim(ctx, r.opts.Queues, r.opts.ClaimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("claim failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}
		r.Execute(ctx, task)
	}
}

func (r *Runner) watchControl(ctx context.Context, control <-chan broker.ControlMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-control:
			if !ok {
				return
			}
			if msg.Signal != "terminate" {
				continue
			}
			r.mu.Lock()
			cancel, ok := r.running[msg.ExecutionID]
			r.mu.Unlock()
			if ok {
				r.logger.Info("terminating execution", zap.String("execution_id", msg.ExecutionID))
				cancel()
			}
		}
	}
}

// Execute runs one claimed task to its terminal state.
func (r *Runner) Execute(ctx context.Context, task *broker.Task) {
	log := r.logger.With(zap.String("execution_id", task.ID), zap.String("action", task.Action))

	revoked, err := r.source.IsRevoked(ctx, task.ID)
	if err != nil {
		log.Warn("revoked check failed", zap.Error(err))
	}
	if revoked {
		log.Info("skipping revoked task")
		r.setState(ctx, task.ID, kettle.Result{State: kettle.StateRevoked, Error: "revoked before start"})
		return
	}

	r.setState(ctx, task.ID, kettle.Result{State: kettle.StateStarted})

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.running[task.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, task.ID)
		r.mu.Unlock()
	}()

	actx := actionlog.WithContext(taskCtx, task.ID, 0, r.emit)
	actx = kettle.WithInvoker(actx, r)

	act, ok := r.registry.Lookup(task.Action)
	if !ok {
		actionlog.Errorf(actx, "✗ Failed action: %s - not registered on this worker", task.Action)
		r.setState(ctx, task.ID, kettle.Result{
			State: kettle.StateFailure,
			Error: fmt.Sprintf("action not found: %s", task.Action),
		})
		return
	}

	log.Info("executing action")
	actionlog.Printf(actx, "→ Starting action: %s", task.Action)

	result, err := r.invoke(actx, act, task.Params)
	if err != nil {
		actionlog.Errorf(actx, "✗ Failed action: %s - %v", task.Action, err)
		// A cancelled context on a revoked task settles as REVOKED, not
		// FAILURE; everything else is an ordinary action failure.
		state := kettle.StateFailure
		if taskCtx.Err() != nil {
			if rev, rerr := r.source.IsRevoked(ctx, task.ID); rerr == nil && rev {
				state = kettle.StateRevoked
			}
		}
		r.setState(ctx, task.ID, kettle.Result{State: state, Error: err.Error()})
		return
	}

	actionlog.Printf(actx, "✓ Completed action: %s", task.Action)
	r.setState(ctx, task.ID, kettle.Result{State: kettle.StateSuccess, Result: result})
}

// Invoke performs a nested in-process action call: same execution id,
// call depth incremented by one. Implements kettle.Invoker.
func (r *Runner) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	act, ok := r.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("nested call: action not found: %s", name)
	}
	return r.invoke(actionlog.Nested(ctx), act, params)
}

// invoke calls the handler with panic containment: a panicking action body
// becomes an ordinary failure instead of taking the worker down.
func (r *Runner) invoke(ctx context.Context, act kettle.Action, params map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("action panicked",
				zap.String("action", act.Name),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if params == nil {
		params = make(map[string]any)
	}
	return act.Handler(ctx, params)
}

func (r *Runner) setState(ctx context.Context, executionID string, rec kettle.Result) {
	if err := r.source.SetState(ctx, executionID, rec); err != nil {
		r.logger.Warn("set state failed",
			zap.String("execution_id", executionID),
			zap.String("state", rec.State),
			zap.Error(err))
	}
}
