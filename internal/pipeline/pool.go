package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/assemblyline/internal/shared/id"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// PoolStats are cumulative counters of a pool
type PoolStats struct {
	Role      Role  `json:"role"`
	Started   int64 `json:"started"`
	Recycled  int64 `json:"recycled"`
	Crashed   int64 `json:"crashed"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

type poolCounters struct {
	started   atomic.Int64
	recycled  atomic.Int64
	crashed   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// poolDeps are the collaborators shared by every pool of a coordinator
type poolDeps struct {
	codec   transport.Codec
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *monitoring.Metrics
	onCrash func(*WorkerCrash)
}

// Pool supervises the workers of one role. Each slot runs one worker at a
// time and replaces it when it is recycled or crashes.
type Pool struct {
	role    Role
	cfg     PoolConfig
	in      *transport.Channel
	out     *transport.Channel
	hooks   Hooks
	backoff resilience.Backoff
	deps    poolDeps
	logger  *zap.Logger

	mu      sync.RWMutex
	workers []*Worker
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	stats  poolCounters
}

func newPool(role Role, cfg PoolConfig, in, out *transport.Channel, hooks Hooks, deps poolDeps) *Pool {
	if deps.codec == nil {
		deps.codec = transport.NewJSONCodec()
	}
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	if deps.metrics == nil {
		deps.metrics = monitoring.NewMetrics()
	}
	if role != RoleSource {
		deps.limiter = nil
	}

	return &Pool{
		role:  role,
		cfg:   cfg,
		in:    in,
		out:   out,
		hooks: hooks,
		backoff: resilience.Backoff{
			Min:    cfg.RestartBackoff,
			Max:    cfg.MaxRestartBackoff,
			Factor: 2,
		},
		deps:   deps,
		logger: deps.logger.With(zap.String("role", role.String())),
		done:   make(chan struct{}),
	}
}

// Role returns the pool's role
func (p *Pool) Role() Role {
	return p.role
}

// Start spawns one supervisor per slot. Workers outlive ctx; use Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrStarted
	}
	p.started = true

	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.workers = make([]*Worker, p.cfg.Processes)

	for i := 0; i < p.cfg.Processes; i++ {
		p.wg.Add(1)
		go p.runSlot(i)
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.logger.Info("Pool started",
		zap.Int("processes", p.cfg.Processes),
		zap.Int("max_executions", p.cfg.MaxExecutions))
	return nil
}

// Stop shuts the pool down. A graceful stop closes the inbound channel (or
// cancels sources) and waits for workers to drain; if ctx ends first the stop
// becomes forced. A forced stop cancels workers and discards what is still
// buffered in the inbound channel.
func (p *Pool) Stop(ctx context.Context, graceful bool) error {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return nil
	}

	var drainErr error
	if graceful {
		if p.in != nil {
			_ = p.in.Close()
		} else {
			p.cancel()
		}

		select {
		case <-p.done:
			p.logger.Info("Pool stopped", zap.Int64("processed", p.stats.processed.Load()))
			return nil
		case <-ctx.Done():
			drainErr = fmt.Errorf("%s pool drain: %w", p.role, ctx.Err())
			p.logger.Warn("Drain timed out, forcing stop")
		}
	}

	p.cancel()
	<-p.done

	if p.in != nil {
		_ = p.in.Close()
		if n := p.in.Discard(); n > 0 {
			p.logger.Warn("Discarded buffered envelopes", zap.Int("count", n))
		}
	}

	p.logger.Info("Pool stopped", zap.Bool("forced", true))
	return drainErr
}

// Done is closed once every slot has exited
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// WorkerCount returns the number of live workers
func (p *Pool) WorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		switch w.State() {
		case StateStarting, StateRunning, StateDraining:
			n++
		}
	}
	return n
}

// Workers returns a snapshot of the current worker of every slot
func (p *Pool) Workers() []WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		if w != nil {
			infos = append(infos, w.Info())
		}
	}
	return infos
}

// Stats returns cumulative counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Role:      p.role,
		Started:   p.stats.started.Load(),
		Recycled:  p.stats.recycled.Load(),
		Crashed:   p.stats.crashed.Load(),
		Processed: p.stats.processed.Load(),
		Failed:    p.stats.failed.Load(),
	}
}

func (p *Pool) runSlot(index int) {
	defer p.wg.Done()

	role := p.role.String()
	attempt := 0

	for generation := 0; ; generation++ {
		if p.ctx.Err() != nil {
			return
		}

		w := p.newWorker(index, generation)
		p.setWorker(index, w)
		p.stats.started.Add(1)
		p.deps.metrics.WorkerStarted(role)
		w.logger.Debug("Worker started")

		exit, err := w.run(p.ctx)
		p.deps.metrics.WorkerStopped(role)

		switch exit {
		case exitRecycled:
			w.setState(StateStopped)
			p.stats.recycled.Add(1)
			p.deps.metrics.WorkerRecycled(role)
			w.logger.Info("Worker recycled", zap.Int64("executions", w.ExecutionCount()))
			attempt = 0

		case exitCrashed:
			w.setState(StateCrashed)
			p.stats.crashed.Add(1)
			p.deps.metrics.WorkerCrashed(role)

			crash := &WorkerCrash{
				Role:       p.role,
				WorkerID:   w.ID(),
				PoolIndex:  index,
				Generation: generation,
				Err:        err,
			}
			if pe, ok := err.(*panicError); ok {
				crash.Panic = true
				w.logger.Error("Worker panicked", zap.Any("panic", pe.value), zap.ByteString("stack", pe.stack))
			} else {
				w.logger.Error("Worker crashed", zap.Error(err))
			}
			if p.deps.onCrash != nil {
				p.deps.onCrash(crash)
			}

			if w.healthy.Load() {
				attempt = 0
			}
			attempt++
			if p.backoff.Wait(p.ctx, attempt) != nil {
				return
			}

		default:
			w.setState(StateStopped)
			w.logger.Debug("Worker stopped", zap.Int64("executions", w.ExecutionCount()))
			return
		}
	}
}

func (p *Pool) newWorker(index, generation int) *Worker {
	wid := id.NewWorkerID()
	w := &Worker{
		id:            wid,
		role:          p.role,
		index:         index,
		poolSize:      p.cfg.Processes,
		generation:    generation,
		maxExecutions: int64(p.cfg.MaxExecutions),
		startedAt:     time.Now(),
		in:            p.in,
		out:           p.out,
		hooks:         p.hooks,
		codec:         p.deps.codec,
		limiter:       p.deps.limiter,
		metrics:       p.deps.metrics,
		stats:         &p.stats,
		logger: p.logger.With(
			zap.String("worker", wid.String()),
			zap.Int("slot", index),
			zap.Int("generation", generation),
		),
	}
	if p.role == RoleSource {
		w.maxExecutions = 0
	}
	w.setState(StateStarting)
	return w
}

func (p *Pool) setWorker(index int, w *Worker) {
	p.mu.Lock()
	p.workers[index] = w
	p.mu.Unlock()
}
