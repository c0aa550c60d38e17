package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFailed = errors.New("failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func call(success bool) func() error {
	return func() error {
		if success {
			return nil
		}
		return errFailed
	}
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name  string
		trip  uint32
		calls []bool
		want  State
	}{
		{"successes keep it closed", 3, []bool{true, true, true}, StateClosed},
		{"consecutive failures open it", 3, []bool{false, false, false}, StateOpen},
		{"a success resets the streak", 2, []bool{false, true, false}, StateClosed},
		{"default threshold is six failures", 0, []bool{false, false, false, false, false, false}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := Settings{Now: newFakeClock().Now}
			if tt.trip > 0 {
				settings.ReadyToTrip = tripAfter(tt.trip)
			}
			b := New("test", settings)

			for _, ok := range tt.calls {
				_ = b.Execute(call(ok))
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b := New("test", Settings{Now: newFakeClock().Now})

	require.NoError(t, b.Execute(call(true)))
	assert.Equal(t, Counts{Requests: 1, TotalSuccesses: 1, ConsecutiveSuccesses: 1}, b.Counts())

	assert.ErrorIs(t, b.Execute(call(false)), errFailed)
	assert.Equal(t, Counts{Requests: 2, TotalSuccesses: 1, TotalFailures: 1, ConsecutiveFailures: 1}, b.Counts())
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := newFakeClock()
	b := New("test", Settings{Interval: time.Minute, ReadyToTrip: tripAfter(2), Now: clock.Now})

	_ = b.Execute(call(false))
	clock.Advance(time.Minute)
	_ = b.Execute(call(false))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestBreakerOpenRejects(t *testing.T) {
	clock := newFakeClock()
	b := New("webhook", Settings{Timeout: time.Minute, ReadyToTrip: tripAfter(2), Now: clock.Now})

	for i := 0; i < 2; i++ {
		_ = b.Execute(call(false))
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(20 * time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "webhook")
	assert.Contains(t, err.Error(), "retry in 40s")
	assert.False(t, called)
	assert.Equal(t, uint64(1), b.Rejected())
}

func TestBreakerHalfOpen(t *testing.T) {
	tests := []struct {
		name   string
		probes []bool
		want   State
	}{
		{"successful probes close it", []bool{true, true}, StateClosed},
		{"a failed probe reopens it", []bool{true, false}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			b := New("test", Settings{
				MaxRequests: 2,
				Timeout:     time.Second,
				ReadyToTrip: tripAfter(1),
				Now:         clock.Now,
			})

			_ = b.Execute(call(false))
			require.Equal(t, StateOpen, b.State())

			clock.Advance(time.Second)
			require.Equal(t, StateHalfOpen, b.State())

			for _, ok := range tt.probes {
				_ = b.Execute(call(ok))
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	b := New("test", Settings{MaxRequests: 1, Timeout: time.Second, ReadyToTrip: tripAfter(1), Now: clock.Now})

	_ = b.Execute(call(false))
	clock.Advance(time.Second)

	done, err := b.Allow()
	require.NoError(t, err)

	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)

	done(true)
	done(false)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresStaleOutcomes(t *testing.T) {
	clock := newFakeClock()
	b := New("test", Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1), Now: clock.Now})

	slow, err := b.Allow()
	require.NoError(t, err)

	_ = b.Execute(call(false))
	require.Equal(t, StateOpen, b.State())

	slow(true)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIsSuccessful(t *testing.T) {
	errClient := errors.New("bad request")
	b := New("test", Settings{
		ReadyToTrip: tripAfter(1),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errClient)
		},
		Now: newFakeClock().Now,
	})

	assert.ErrorIs(t, b.Execute(func() error { return errClient }), errClient)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b := New("test", Settings{ReadyToTrip: tripAfter(1), Now: newFakeClock().Now})

	assert.Panics(t, func() {
		_ = b.Execute(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChanges(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New("test", Settings{
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
		Now: clock.Now,
	})

	for i := 0; i < 2; i++ {
		_ = b.Execute(call(false))
	}
	clock.Advance(time.Second)
	require.NoError(t, b.Execute(call(true)))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
