package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/assemblyline/internal/shared/id"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

type exitReason int

const (
	exitFinished exitReason = iota
	exitRecycled
	exitCancelled
	exitCrashed
)

// WorkerInfo is a snapshot of a worker
type WorkerInfo struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	PoolIndex      int       `json:"pool_index"`
	Generation     int       `json:"generation"`
	ExecutionCount int64     `json:"execution_count"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
}

// Worker runs the loop of one role. A worker is one incarnation of a pool
// slot: recycling or a crash replaces it with a new Worker.
//
// For sources ExecutionCount counts sent items; for other roles it counts
// message hook invocations.
type Worker struct {
	id            id.WorkerID
	role          Role
	index         int
	poolSize      int
	generation    int
	maxExecutions int64
	startedAt     time.Time

	in      *transport.Channel
	out     *transport.Channel
	hooks   Hooks
	codec   transport.Codec
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *monitoring.Metrics
	stats   *poolCounters

	state      atomic.Int32
	executions atomic.Int64
	healthy    atomic.Bool

	mu     sync.RWMutex
	values map[string]any
}

// ID returns the worker ID
func (w *Worker) ID() string { return w.id.String() }

// Role returns the worker role
func (w *Worker) Role() Role { return w.role }

// PoolIndex returns the slot of the worker within its pool
func (w *Worker) PoolIndex() int { return w.index }

// PoolSize returns the number of slots in the worker's pool
func (w *Worker) PoolSize() int { return w.poolSize }

// Generation returns how many times the slot was restarted before this worker
func (w *Worker) Generation() int { return w.generation }

// ExecutionCount returns the number of executions since this worker started
func (w *Worker) ExecutionCount() int64 { return w.executions.Load() }

// State returns the lifecycle state
func (w *Worker) State() State { return State(w.state.Load()) }

// Logger returns a logger carrying the worker's identity
func (w *Worker) Logger() *zap.Logger { return w.logger }

// Info returns a snapshot of the worker
func (w *Worker) Info() WorkerInfo {
	return WorkerInfo{
		ID:             w.ID(),
		Role:           w.role,
		PoolIndex:      w.index,
		Generation:     w.generation,
		ExecutionCount: w.ExecutionCount(),
		State:          w.State(),
		StartedAt:      w.startedAt,
	}
}

// Set stores per-worker state, typically prepared by the start hook
func (w *Worker) Set(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.values == nil {
		w.values = make(map[string]any)
	}
	w.values[key] = value
}

// Value returns per-worker state stored with Set
func (w *Worker) Value(key string) any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.values[key]
}

// Send encodes v and sends it downstream, blocking while the channel is full.
// Sources call it from their start hook; transforms may call it to emit more
// than one result per message.
func (w *Worker) Send(ctx context.Context, v any) error {
	if err := w.send(ctx, v); err != nil {
		return err
	}
	if w.role == RoleSource {
		w.executions.Add(1)
		w.stats.processed.Add(1)
		w.healthy.Store(true)
	}
	return nil
}

func (w *Worker) send(ctx context.Context, v any) error {
	if w.out == nil {
		return ErrNoOutbound
	}

	payload, enc, err := encodeValue(w.codec, v)
	if err != nil {
		return err
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	return w.out.Send(ctx, payload, enc)
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// run executes the worker until its stream ends, it is recycled, ctx is
// cancelled or it crashes. Panics in hooks are converted to crashes.
func (w *Worker) run(ctx context.Context) (exit exitReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			exit, err = exitCrashed, &panicError{value: r, stack: debug.Stack()}
		}
	}()

	if w.role == RoleSource {
		return w.runSource(ctx)
	}

	w.setState(StateStarting)
	if w.hooks.Start != nil {
		if err := w.hooks.Start(ctx, w); err != nil {
			if IsFatal(err) {
				return exitCrashed, err
			}
			if ctx.Err() != nil {
				return exitCancelled, nil
			}
			w.logger.Warn("Start hook failed", zap.Error(err))
			w.reportError(ctx, fmt.Errorf("start hook: %w", err))
		}
	}

	w.setState(StateRunning)
	for {
		if ctx.Err() != nil {
			return exitCancelled, nil
		}

		d, err := w.in.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrChannelClosed) {
				w.setState(StateDraining)
				return exitFinished, nil
			}
			if ctx.Err() != nil {
				return exitCancelled, nil
			}
			w.stats.failed.Add(1)
			w.logger.Error("Receive failed", zap.Error(err))
			w.reportError(ctx, err)
			if d != nil {
				_ = d.Release()
			}
			continue
		}

		if err := w.handle(ctx, d); err != nil {
			if IsFatal(err) {
				return exitCrashed, err
			}
			if ctx.Err() != nil {
				return exitCancelled, nil
			}
			w.stats.failed.Add(1)
			w.logger.Warn("Message hook failed", zap.Error(err))
			w.reportError(ctx, err)
		} else {
			w.stats.processed.Add(1)
			w.healthy.Store(true)
		}

		if w.maxExecutions > 0 && w.executions.Load() >= w.maxExecutions {
			w.setState(StateDraining)
			return exitRecycled, nil
		}
	}
}

func (w *Worker) runSource(ctx context.Context) (exitReason, error) {
	w.setState(StateRunning)

	err := w.hooks.Start(ctx, w)
	switch {
	case err == nil:
		w.setState(StateDraining)
		return exitFinished, nil
	case IsFatal(err):
		return exitCrashed, err
	case ctx.Err() != nil:
		return exitCancelled, nil
	default:
		w.stats.failed.Add(1)
		w.logger.Error("Source stopped with error", zap.Error(err))
		w.reportError(ctx, err)
		w.setState(StateDraining)
		return exitFinished, nil
	}
}

func (w *Worker) handle(ctx context.Context, d *transport.Delivery) error {
	defer func() {
		if err := d.Release(); err != nil {
			w.logger.Warn("Release delivery failed", zap.Error(err))
		}
	}()

	msg := newMessage(d, w.codec)
	w.executions.Add(1)

	timer := monitoring.NewTimer(w.metrics, w.role.String())
	result, err := w.hooks.Message(ctx, w, msg)
	if err != nil {
		timer.Stop("error")
		return fmt.Errorf("message %s: %w", msg.ID, err)
	}
	timer.Stop("ok")

	if result == nil || w.out == nil {
		return nil
	}
	if err := w.send(ctx, result); err != nil {
		return fmt.Errorf("forward message %s: %w", msg.ID, err)
	}
	return nil
}

func (w *Worker) reportError(ctx context.Context, err error) {
	if w.hooks.Error != nil {
		w.hooks.Error(ctx, w, err)
	}
}
