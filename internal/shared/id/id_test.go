package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateMonotonic(t *testing.T) {
	gen := NewGenerator()

	prev := gen.Generate()
	for i := 0; i < 1000; i++ {
		next := gen.Generate()
		if next.Compare(prev) <= 0 {
			t.Fatalf("ID %s does not sort after %s", next, prev)
		}
		prev = next
	}

	if n := len(gen.GenerateString()); n != 26 {
		t.Errorf("ULID should be 26 characters, got %d", n)
	}
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"envelope", NewEnvelopeID().String(), EnvelopePrefix + "_"},
		{"worker", NewWorkerID().String(), WorkerPrefix + "_"},
		{"bare", New(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.id, tt.prefix) {
				t.Errorf("%s should start with %q", tt.id, tt.prefix)
			}
			if !IsValid(tt.id) {
				t.Errorf("%s should be valid", tt.id)
			}
		})
	}
}

func TestRunIDIsUUID(t *testing.T) {
	run := NewRunID()
	if _, err := uuid.Parse(run.String()); err != nil {
		t.Errorf("RunID should be a UUID, got %s: %v", run, err)
	}
}

func TestIsValidRejects(t *testing.T) {
	for _, s := range []string{"", "invalid", "env_", "env_1234567890", "zzzzzzzzzzzzzzzzzzzzzzzzzzz", "8ZZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		if IsValid(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	env := NewEnvelopeID()
	wrk := NewWorkerID()
	after := time.Now()

	for _, get := range []func() (time.Time, error){env.Time, wrk.Time} {
		ts, err := get()
		if err != nil {
			t.Fatalf("timestamp: %v", err)
		}
		if ts.Before(before) || ts.After(after) {
			t.Errorf("timestamp %v outside [%v, %v]", ts, before, after)
		}
	}

	if _, err := Timestamp("nope"); err == nil {
		t.Error("expected an error for an invalid ID")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const goroutines, perGoroutine = 50, 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[EnvelopeID]struct{}, goroutines*perGoroutine)
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := NewEnvelopeID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique IDs, got %d", goroutines*perGoroutine, len(seen))
	}
}
