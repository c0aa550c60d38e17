package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/assemblyline/internal/shared/id"
)

// DefaultInlineThreshold is the payload size above which payloads spill
const DefaultInlineThreshold = 8192

// Observer is notified of every envelope accepted by a channel
type Observer interface {
	ObserveSend(channel string, size int, spilled bool)
}

// Channel is a bounded queue moving envelopes between two stages.
//
// Every consumer competes on the same queue, so an envelope goes to the first
// idle receiver. Order is FIFO for the channel as a whole; there is no
// ordering across receivers.
type Channel struct {
	name      string
	queue     chan *Envelope
	spool     *Spool
	threshold int
	observer  Observer

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// ChannelOption configures a Channel
type ChannelOption func(*Channel)

// WithObserver attaches a send observer
func WithObserver(o Observer) ChannelOption {
	return func(c *Channel) {
		c.observer = o
	}
}

// NewChannel creates a channel buffering up to capacity envelopes. Payloads
// larger than threshold bytes are spilled to spool.
func NewChannel(name string, capacity int, spool *Spool, threshold int, opts ...ChannelOption) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	if threshold < 0 {
		threshold = DefaultInlineThreshold
	}

	c := &Channel{
		name:      name,
		queue:     make(chan *Envelope, capacity),
		spool:     spool,
		threshold: threshold,
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Len returns the number of buffered envelopes
func (c *Channel) Len() int {
	return len(c.queue)
}

// Cap returns the channel capacity
func (c *Channel) Cap() int {
	return cap(c.queue)
}

// Threshold returns the inline size threshold
func (c *Channel) Threshold() int {
	return c.threshold
}

// Send wraps payload in an envelope and enqueues it, blocking while the
// channel is full. Oversized payloads are spilled first; a spill failure is
// returned as *OverflowIOError and nothing is enqueued.
func (c *Channel) Send(ctx context.Context, payload []byte, enc Encoding) error {
	select {
	case <-c.closing:
		return ErrChannelClosed
	default:
	}

	if enc == "" {
		enc = EncodingRaw
	}

	env := &Envelope{
		ID:       id.NewEnvelopeID().String(),
		Size:     len(payload),
		Encoding: enc,
		SentAt:   time.Now(),
	}

	if env.Size > c.threshold {
		if c.spool == nil {
			return &OverflowIOError{Op: "write", EnvelopeID: env.ID, Err: ErrNoSpool}
		}
		ref, err := c.spool.Write(env.ID, payload)
		if err != nil {
			return err
		}
		env.OverflowRef = ref
	} else {
		// the caller may reuse payload once Send returns
		env.Payload = bytes.Clone(payload)
	}

	if err := c.enqueue(ctx, env); err != nil {
		if env.Spilled() {
			_ = c.spool.Remove(env.OverflowRef)
		}
		return err
	}

	if c.observer != nil {
		c.observer.ObserveSend(c.name, env.Size, env.Spilled())
	}
	return nil
}

func (c *Channel) enqueue(ctx context.Context, env *Envelope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.queue <- env:
		return nil
	case <-c.closing:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an envelope is available. After Close it keeps
// returning buffered envelopes, then ErrChannelClosed.
//
// If a spilled payload cannot be read, the delivery is returned together with
// an *OverflowIOError so the caller knows which envelope failed; the spill
// file is left in place.
func (c *Channel) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case env, ok := <-c.queue:
		if !ok {
			return nil, ErrChannelClosed
		}
		return c.open(env)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) open(env *Envelope) (*Delivery, error) {
	d := &Delivery{Envelope: env, spool: c.spool}

	if !env.Spilled() {
		d.Payload = env.Payload
		return d, nil
	}

	data, err := c.spool.Read(env.OverflowRef)
	if err != nil {
		d.failed = true
		return d, err
	}
	d.Payload = data
	return d, nil
}

// Close stops the channel from accepting envelopes. It is idempotent;
// already buffered envelopes remain receivable.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)

		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
	})
	return nil
}

// Closed reports whether Close has been called
func (c *Channel) Closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Discard drops every buffered envelope and removes its spill file. It is
// used on forced shutdown and returns the number of envelopes dropped.
func (c *Channel) Discard() int {
	n := 0
	for {
		select {
		case env, ok := <-c.queue:
			if !ok {
				return n
			}
			if env.Spilled() && c.spool != nil {
				_ = c.spool.Remove(env.OverflowRef)
			}
			n++
		default:
			return n
		}
	}
}

// Delivery is a received envelope with its payload loaded
type Delivery struct {
	Envelope *Envelope
	Payload  []byte

	spool    *Spool
	failed   bool
	released bool
}

// Release frees the delivery. For spilled envelopes it deletes the spill
// file; calling it more than once is a no-op. A delivery whose payload could
// not be read keeps its file so the payload is not lost.
func (d *Delivery) Release() error {
	if d.released {
		return nil
	}
	d.released = true
	d.Payload = nil

	if d.failed || !d.Envelope.Spilled() || d.spool == nil {
		return nil
	}
	return d.spool.Remove(d.Envelope.OverflowRef)
}
