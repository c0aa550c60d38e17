package tracing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/shared/id"
)

// Propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

const defaultBuffer = 1024

// TraceID groups the spans of one request flow
type TraceID string

// SpanID identifies a single span
type SpanID string

// Span is one timed operation within a trace
type Span struct {
	TraceID  TraceID
	ID       SpanID
	Parent   SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	attrs  []zap.Field
	tracer *Tracer
	ended  atomic.Bool
}

// Annotate attaches a string attribute logged with the span
func (s *Span) Annotate(key, value string) {
	s.attrs = append(s.attrs, zap.String(key, value))
}

// End stamps the duration and hands the span to its tracer.
// Only the first call has any effect.
func (s *Span) End(status int, err error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.Duration = time.Since(s.Start)
	s.Status = status
	s.Err = err
	s.tracer.enqueue(s)
}

// Tracer starts spans and logs finished ones from a background goroutine
type Tracer struct {
	service string
	logger  *zap.Logger
	queue   chan *Span
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New creates a tracer for service. A nil logger discards spans.
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		queue:   make(chan *Span, defaultBuffer),
		done:    make(chan struct{}),
	}
	go t.drain()
	return t
}

// Start opens a span under the trace carried by ctx, or a fresh trace
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, *Span) {
	sc, _ := ctx.Value(ctxKey{}).(spanContext)
	if sc.trace == "" {
		sc.trace = TraceID(id.New())
	}

	span := &Span{
		TraceID: sc.trace,
		ID:      SpanID(id.New()),
		Parent:  sc.span,
		Name:    name,
		Start:   time.Now(),
		tracer:  t,
	}
	return context.WithValue(ctx, ctxKey{}, spanContext{trace: span.TraceID, span: span.ID}), span
}

// Dropped reports spans discarded because the queue was full
func (t *Tracer) Dropped() int64 {
	return t.dropped.Load()
}

// Close logs queued spans and stops the tracer. Spans ended afterwards are ignored.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	<-t.done
}

func (t *Tracer) enqueue(s *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.queue <- s:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tracer) drain() {
	defer close(t.done)
	for s := range t.queue {
		t.emit(s)
	}
}

func (t *Tracer) emit(s *Span) {
	fields := make([]zap.Field, 0, 7+len(s.attrs))
	fields = append(fields,
		zap.String("service", t.service),
		zap.String("op", s.Name),
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.ID)),
		zap.Duration("duration", s.Duration),
	)
	if s.Parent != "" {
		fields = append(fields, zap.String("parent_id", string(s.Parent)))
	}
	if s.Status != 0 {
		fields = append(fields, zap.Int("status", s.Status))
	}
	fields = append(fields, s.attrs...)

	if s.Err != nil {
		t.logger.Warn("Span failed", append(fields, zap.Error(s.Err))...)
		return
	}
	t.logger.Debug("Span finished", fields...)
}

type ctxKey struct{}

type spanContext struct {
	trace TraceID
	span  SpanID
}

// Continue returns ctx joined to a trace started elsewhere. Empty IDs are ignored.
func Continue(ctx context.Context, trace TraceID, parent SpanID) context.Context {
	if trace == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, spanContext{trace: trace, span: parent})
}

// FromContext returns the trace and current span carried by ctx
func FromContext(ctx context.Context) (TraceID, SpanID) {
	sc, _ := ctx.Value(ctxKey{}).(spanContext)
	return sc.trace, sc.span
}
