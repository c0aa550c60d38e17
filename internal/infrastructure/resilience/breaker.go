package resilience

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker
type Settings struct {
	// MaxRequests is the number of probes admitted while half-open, and the
	// number of successful probes needed to close again. Defaults to 1.
	MaxRequests uint32
	// Interval clears the counts of a closed breaker periodically. Zero
	// keeps them until the state changes.
	Interval time.Duration
	// Timeout is how long the breaker stays open. Defaults to 60s.
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open.
	// Defaults to more than 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies the error of a call. Defaults to err == nil.
	IsSuccessful func(err error) bool
	// OnStateChange is called after every transition, outside the lock
	OnStateChange func(name string, from, to State)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Counts are the request counts of the current generation. A generation
// ends on every state change and every Interval while closed.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

type transition struct {
	from, to State
}

// Breaker is a three-state circuit breaker
type Breaker struct {
	name string
	cfg  Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	deadline   time.Time

	rejected atomic.Uint64
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	b := &Breaker{name: name, cfg: settings}
	b.newGeneration(settings.Now())
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the state, applying any due timeout
func (b *Breaker) State() State {
	b.mu.Lock()
	changes := b.advance(b.cfg.Now())
	state := b.state
	b.mu.Unlock()

	b.notify(changes)
	return state
}

// Counts returns the counts of the current generation
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Rejected returns how many calls were refused since creation
func (b *Breaker) Rejected() uint64 {
	return b.rejected.Load()
}

// Allow admits one call. The caller must report its outcome through done;
// extra calls to done are ignored. A refused call returns an error wrapping
// ErrCircuitOpen or ErrTooManyRequests.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	now := b.cfg.Now()
	changes := b.advance(now)

	switch {
	case b.state == StateOpen:
		err = fmt.Errorf("%s: %w (retry in %s)", b.name, ErrCircuitOpen, b.deadline.Sub(now).Round(time.Millisecond))
	case b.state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests:
		err = fmt.Errorf("%s: %w", b.name, ErrTooManyRequests)
	default:
		b.counts.Requests++
	}
	generation := b.generation
	b.mu.Unlock()

	b.notify(changes)
	if err != nil {
		b.rejected.Add(1)
		return nil, err
	}

	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.record(generation, success) })
	}, nil
}

// Execute runs fn if the breaker admits it. A panic in fn counts as a
// failure and is propagated.
func (b *Breaker) Execute(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			done(false)
		}
	}()

	err = fn()
	finished = true
	done(b.cfg.IsSuccessful(err))
	return err
}

func (b *Breaker) record(generation uint64, success bool) {
	b.mu.Lock()
	now := b.cfg.Now()
	changes := b.advance(now)

	// Outcomes of calls admitted in an earlier generation are dropped.
	if generation == b.generation {
		c := &b.counts
		if success {
			c.TotalSuccesses++
			c.ConsecutiveSuccesses++
			c.ConsecutiveFailures = 0
			if b.state == StateHalfOpen && c.ConsecutiveSuccesses >= b.cfg.MaxRequests {
				changes = append(changes, b.moveTo(StateClosed, now))
			}
		} else {
			c.TotalFailures++
			c.ConsecutiveFailures++
			c.ConsecutiveSuccesses = 0
			if b.state == StateHalfOpen || (b.state == StateClosed && b.cfg.ReadyToTrip(*c)) {
				changes = append(changes, b.moveTo(StateOpen, now))
			}
		}
	}
	b.mu.Unlock()

	b.notify(changes)
}

// advance applies time based transitions. Callers hold mu.
func (b *Breaker) advance(now time.Time) []transition {
	switch b.state {
	case StateClosed:
		if b.cfg.Interval > 0 && !now.Before(b.deadline) {
			b.newGeneration(now)
		}
	case StateOpen:
		if !now.Before(b.deadline) {
			return []transition{b.moveTo(StateHalfOpen, now)}
		}
	}
	return nil
}

func (b *Breaker) moveTo(state State, now time.Time) transition {
	t := transition{from: b.state, to: state}
	b.state = state
	b.newGeneration(now)
	return t
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}

	switch b.state {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Interval)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Timeout)
	default:
		b.deadline = time.Time{}
	}
}

func (b *Breaker) notify(changes []transition) {
	if b.cfg.OnStateChange == nil {
		return
	}
	for _, t := range changes {
		b.cfg.OnStateChange(b.name, t.from, t.to)
	}
}
