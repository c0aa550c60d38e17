package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/assemblyline/internal/shared/id"
	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// Channel names
const (
	SourceToTransform = "source->transform"
	TransformToSink   = "transform->sink"
)

// Coordinator owns the three pools of a pipeline and the channels between
// them.
type Coordinator struct {
	cfg     Config
	runID   id.RunID
	logger  *zap.Logger
	metrics *monitoring.Metrics
	codec   transport.Codec

	mu        sync.Mutex
	hooks     [3]Hooks
	observers []FailureObserver
	started   bool
	startedAt time.Time

	spool    *transport.Spool
	channels []*transport.Channel
	pools    [3]*Pool

	force     context.CancelFunc
	forceCtx  context.Context
	stopOnce  sync.Once
	stopErr   error
	done      chan struct{}
	stopping  bool
	stoppedAt time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithCodec sets the codec used for structured payloads
func WithCodec(codec transport.Codec) Option {
	return func(c *Coordinator) {
		c.codec = codec
	}
}

// WithFailureObserver registers a failure observer
func WithFailureObserver(fn FailureObserver) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, fn)
	}
}

// New validates cfg and creates a coordinator. cfg is copied.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:   cfg,
		runID: id.NewRunID(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = monitoring.NewMetrics()
	}
	if c.codec == nil {
		c.codec = transport.NewJSONCodec()
	}
	c.logger = c.logger.With(zap.String("run", c.runID.String()))
	c.forceCtx, c.force = context.WithCancel(context.Background())

	return c, nil
}

// RunID returns the identifier of this run
func (c *Coordinator) RunID() string {
	return c.runID.String()
}

// Config returns a copy of the configuration
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Metrics returns the metrics collector
func (c *Coordinator) Metrics() *monitoring.Metrics {
	return c.metrics
}

// Logger returns the coordinator logger
func (c *Coordinator) Logger() *zap.Logger {
	return c.logger
}

// On registers handler for event on role. The handler must match the event's
// handler type.
func (c *Coordinator) On(role Role, event Event, handler any) error {
	if !role.valid() {
		return fmt.Errorf("unknown role %d", int(role))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrStarted
	}
	return c.hooks[role].set(event, handler)
}

// OnStart registers the stage-start hook of role
func (c *Coordinator) OnStart(role Role, fn StartHandler) error {
	return c.On(role, EventStart, fn)
}

// OnMessage registers the stage-message hook of role
func (c *Coordinator) OnMessage(role Role, fn MessageHandler) error {
	return c.On(role, EventMessage, fn)
}

// OnError registers the stage-error hook of role
func (c *Coordinator) OnError(role Role, fn ErrorHandler) error {
	return c.On(role, EventError, fn)
}

// Use registers every non-nil handler of hooks for role
func (c *Coordinator) Use(role Role, hooks Hooks) error {
	if !role.valid() {
		return fmt.Errorf("unknown role %d", int(role))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrStarted
	}
	c.hooks[role] = c.hooks[role].merge(hooks)
	return nil
}

// OnFailure registers a failure observer. Observers may be added at any time.
func (c *Coordinator) OnFailure(fn FailureObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Start validates the hooks, prepares transport and starts the pools
// downstream first: sink, transform, then source.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrStarted
	}
	if err := c.validateHooks(); err != nil {
		return err
	}

	spool, err := transport.NewSpool(c.cfg.OverflowDir, c.cfg.QueueName, c.cfg.Compression)
	if err != nil {
		return &ConfigurationError{Field: "overflow_dir", Reason: "not usable", Err: err}
	}
	if n, err := spool.Sweep(); err != nil {
		_ = spool.Close()
		return &ConfigurationError{Field: "overflow_dir", Reason: "sweep failed", Err: err}
	} else if n > 0 {
		c.logger.Info("Removed stale spill files", zap.Int("count", n))
	}
	c.spool = spool

	toTransform := c.newChannel(SourceToTransform, c.cfg.Transform.QueueCapacity)
	toSink := c.newChannel(TransformToSink, c.cfg.Sink.QueueCapacity)
	c.channels = []*transport.Channel{toTransform, toSink}

	deps := poolDeps{
		codec:   c.codec,
		logger:  c.logger,
		metrics: c.metrics,
		onCrash: c.reportCrash,
	}
	if c.cfg.SourceRateLimit > 0 {
		burst := int(c.cfg.SourceRateLimit)
		if burst < 1 {
			burst = 1
		}
		deps.limiter = rate.NewLimiter(rate.Limit(c.cfg.SourceRateLimit), burst)
	}

	c.pools[RoleSink] = newPool(RoleSink, c.cfg.Sink, toSink, nil, c.hooks[RoleSink], deps)
	c.pools[RoleTransform] = newPool(RoleTransform, c.cfg.Transform, toTransform, toSink, c.hooks[RoleTransform], deps)
	c.pools[RoleSource] = newPool(RoleSource, c.cfg.Source, nil, toTransform, c.hooks[RoleSource], deps)

	started := make([]*Pool, 0, len(Roles))
	for _, role := range []Role{RoleSink, RoleTransform, RoleSource} {
		if err := c.pools[role].Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(context.Background(), false)
			}
			_ = spool.Close()
			return fmt.Errorf("start %s pool: %w", role, err)
		}
		started = append(started, c.pools[role])
	}

	c.started = true
	c.startedAt = time.Now()
	go c.watchSources()

	c.logger.Info("Pipeline started",
		zap.Int("source", c.cfg.Source.Processes),
		zap.Int("transform", c.cfg.Transform.Processes),
		zap.Int("sink", c.cfg.Sink.Processes),
		zap.String("overflow_dir", spool.Dir()))
	return nil
}

// Stop shuts the pipeline down: source first, then transform drains, then
// sink drains. A forced stop discards buffered envelopes. Calling Stop with
// graceful=false while a graceful stop is in progress escalates it.
func (c *Coordinator) Stop(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.stopping = true
	c.mu.Unlock()

	if !graceful {
		c.force()
	}

	c.stopOnce.Do(func() {
		go func() {
			c.stopErr = c.shutdown(ctx, graceful)
			c.mu.Lock()
			c.stoppedAt = time.Now()
			c.mu.Unlock()
			close(c.done)
		}()
	})

	select {
	case <-c.done:
		return c.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the pipeline has stopped, either through Stop or because
// every source finished and downstream pools drained.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case <-c.done:
		return c.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the pipeline has fully stopped
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run starts the pipeline and blocks until it ends. Cancelling ctx triggers
// a graceful stop bounded by the drain timeout.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		c.logger.Info("Shutdown requested")
		stopCtx, cancel := c.drainContext()
		defer cancel()
		if err := c.Stop(stopCtx, true); err != nil {
			return err
		}
	}

	return c.Wait(context.Background())
}

// watchSources drains the pipeline once every source has finished
func (c *Coordinator) watchSources() {
	select {
	case <-c.pools[RoleSource].Done():
	case <-c.done:
		return
	}

	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping {
		return
	}

	c.logger.Info("All sources finished, draining")
	ctx, cancel := c.drainContext()
	defer cancel()
	if err := c.Stop(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Drain failed", zap.Error(err))
	}
}

func (c *Coordinator) drainContext() (context.Context, context.CancelFunc) {
	if c.cfg.DrainTimeout > 0 {
		return context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
	}
	return context.WithCancel(context.Background())
}

func (c *Coordinator) shutdown(ctx context.Context, graceful bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.forceCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	c.logger.Info("Stopping pipeline", zap.Bool("graceful", graceful))

	var result *multierror.Error
	for _, role := range Roles {
		pool := c.pools[role]
		if err := pool.Stop(ctx, graceful && ctx.Err() == nil); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop %s pool: %w", role, err))
		}
	}

	for _, ch := range c.channels {
		_ = ch.Close()
		ch.Discard()
	}

	if c.spool != nil {
		if !graceful || result.ErrorOrNil() != nil {
			if n, err := c.spool.Sweep(); err != nil {
				result = multierror.Append(result, fmt.Errorf("sweep spill files: %w", err))
			} else if n > 0 {
				c.logger.Warn("Removed abandoned spill files", zap.Int("count", n))
			}
		}
		if err := c.spool.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.force()

	err := result.ErrorOrNil()
	if err != nil {
		c.logger.Warn("Pipeline stopped with errors", zap.Error(err))
	} else {
		c.logger.Info("Pipeline stopped")
	}
	return err
}

func (c *Coordinator) newChannel(name string, capacity int) *transport.Channel {
	ch := transport.NewChannel(name, capacity, c.spool, c.cfg.InlineThreshold, transport.WithObserver(c.metrics))
	c.metrics.TrackQueue(name, ch.Len)
	return ch
}

func (c *Coordinator) validateHooks() error {
	if c.hooks[RoleSource].Start == nil {
		return configErr("source.hooks", "a %s handler is required", EventStart)
	}
	if c.hooks[RoleSource].Message != nil {
		return configErr("source.hooks", "sources have no inbound channel, %s is not allowed", EventMessage)
	}
	for _, role := range []Role{RoleTransform, RoleSink} {
		if c.hooks[role].Message == nil {
			return configErr(role.String()+".hooks", "a %s handler is required", EventMessage)
		}
	}
	return nil
}

func (c *Coordinator) reportCrash(crash *WorkerCrash) {
	c.mu.Lock()
	observers := make([]FailureObserver, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	failure := failureFrom(crash)
	for _, fn := range observers {
		fn(failure)
	}
}
