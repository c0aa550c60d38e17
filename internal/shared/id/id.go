// Package id generates the identifiers used across the pipeline executor.
//
// Envelope, worker and trace IDs are ULIDs, optionally prefixed, so they sort
// by creation time and keep spill directories and log lines in the order
// work was produced:
//   - Envelope IDs name overflow files and must be collision-free across
//     every worker writing to the same directory.
//   - Worker IDs identify one incarnation of a pool slot; a recycled or
//     restarted slot always receives a fresh ID.
//
// Run IDs are random UUIDs. They label metrics and never need ordering.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Prefixes of typed IDs
const (
	EnvelopePrefix = "env"
	WorkerPrefix   = "wrk"
)

// EnvelopeID identifies a single message in transit
type EnvelopeID string

// WorkerID identifies one incarnation of a worker
type WorkerID string

// RunID identifies a coordinator run
type RunID string

func (id EnvelopeID) String() string { return string(id) }
func (id WorkerID) String() string   { return string(id) }
func (id RunID) String() string      { return string(id) }

// Time returns when the envelope was created
func (id EnvelopeID) Time() (time.Time, error) { return Timestamp(string(id)) }

// Time returns when the worker was created
func (id WorkerID) Time() (time.Time, error) { return Timestamp(string(id)) }

// Generator produces monotonic ULIDs. It is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	defaultOnce      sync.Once
)

// Default returns the process wide generator
func Default() *Generator {
	defaultOnce.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator seeded from crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator reading entropy from r
func NewGeneratorWithEntropy(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// Generate returns a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Now(), g.entropy)
}

// GenerateString returns a new ULID string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix returns prefix_ULID
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return prefix + "_" + g.GenerateString()
}

// NewEnvelopeID returns a fresh envelope ID
func NewEnvelopeID() EnvelopeID {
	return EnvelopeID(Default().GenerateWithPrefix(EnvelopePrefix))
}

// NewWorkerID returns a fresh worker ID
func NewWorkerID() WorkerID {
	return WorkerID(Default().GenerateWithPrefix(WorkerPrefix))
}

// NewRunID returns a fresh run ID
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// New returns a bare ULID string
func New() string {
	return Default().GenerateString()
}

// Parse parses a ULID, with or without a prefix
func Parse(s string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return ulid.ParseStrict(s)
}

// IsValid reports whether s parses as an ID
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Timestamp returns the creation time encoded in an ID
func Timestamp(s string) (time.Time, error) {
	u, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
