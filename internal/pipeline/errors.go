package pipeline

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

var (
	// ErrChannelClosed signals end-of-stream on a transport channel
	ErrChannelClosed = transport.ErrChannelClosed

	// ErrStarted is returned when registering hooks or starting twice
	ErrStarted = errors.New("pipeline already started")

	// ErrNotStarted is returned by Stop and Wait before Start
	ErrNotStarted = errors.New("pipeline not started")

	// ErrNoOutbound is returned by Worker.Send on a sink worker
	ErrNoOutbound = errors.New("worker has no outbound channel")
)

// ConfigurationError reports an invalid topology. The pipeline does not start.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// WorkerCrash describes a worker that died from a fatal hook error or a panic
type WorkerCrash struct {
	Role       Role
	WorkerID   string
	PoolIndex  int
	Generation int
	Panic      bool
	Err        error
}

func (e *WorkerCrash) Error() string {
	kind := "crashed"
	if e.Panic {
		kind = "panicked"
	}
	return fmt.Sprintf("%s worker %s (slot %d, generation %d) %s: %v",
		e.Role, e.WorkerID, e.PoolIndex, e.Generation, kind, e.Err)
}

func (e *WorkerCrash) Unwrap() error {
	return e.Err
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a hook error as fatal: the worker crashes and its pool replaces
// it. Unmarked hook errors are logged and the worker moves on.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal
func IsFatal(err error) bool {
	var target *fatalError
	return errors.As(err, &target)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
