package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Event names a lifecycle event a hook can be registered for
type Event string

const (
	// EventStart fires once per worker, at STARTING -> RUNNING. Source start
	// hooks drive the whole production loop.
	EventStart Event = "stage-start"
	// EventMessage fires once per received envelope
	EventMessage Event = "stage-message"
	// EventError fires when a delivery fails before reaching the message hook,
	// or when a message hook returns a non-fatal error
	EventError Event = "stage-error"
)

// StartHandler runs when a worker starts
type StartHandler func(ctx context.Context, w *Worker) error

// MessageHandler handles one message. A nil result forwards nothing.
type MessageHandler func(ctx context.Context, w *Worker, msg *Message) (any, error)

// ErrorHandler receives per-message errors
type ErrorHandler func(ctx context.Context, w *Worker, err error)

// Hooks is the set of handlers registered for one role
type Hooks struct {
	Start   StartHandler
	Message MessageHandler
	Error   ErrorHandler
}

// Failure is reported to failure observers on every worker crash
type Failure struct {
	Role       Role      `json:"role"`
	WorkerID   string    `json:"worker_id"`
	PoolIndex  int       `json:"pool_index"`
	Generation int       `json:"generation"`
	Panic      bool      `json:"panic"`
	Error      string    `json:"error"`
	Err        error     `json:"-"`
	At         time.Time `json:"at"`
}

// FailureObserver is notified of worker crashes. It must not block.
type FailureObserver func(Failure)

func failureFrom(crash *WorkerCrash) Failure {
	return Failure{
		Role:       crash.Role,
		WorkerID:   crash.WorkerID,
		PoolIndex:  crash.PoolIndex,
		Generation: crash.Generation,
		Panic:      crash.Panic,
		Error:      crash.Err.Error(),
		Err:        crash,
		At:         time.Now(),
	}
}

// set assigns handler to event, checking its type
func (h *Hooks) set(event Event, handler any) error {
	switch event {
	case EventStart:
		fn, ok := asStartHandler(handler)
		if !ok {
			return fmt.Errorf("%s handler must be a StartHandler, got %T", event, handler)
		}
		h.Start = fn
	case EventMessage:
		fn, ok := asMessageHandler(handler)
		if !ok {
			return fmt.Errorf("%s handler must be a MessageHandler, got %T", event, handler)
		}
		h.Message = fn
	case EventError:
		fn, ok := asErrorHandler(handler)
		if !ok {
			return fmt.Errorf("%s handler must be an ErrorHandler, got %T", event, handler)
		}
		h.Error = fn
	default:
		return fmt.Errorf("unknown event %q", event)
	}
	return nil
}

func asStartHandler(v any) (StartHandler, bool) {
	switch fn := v.(type) {
	case StartHandler:
		return fn, fn != nil
	case func(context.Context, *Worker) error:
		return fn, fn != nil
	}
	return nil, false
}

func asMessageHandler(v any) (MessageHandler, bool) {
	switch fn := v.(type) {
	case MessageHandler:
		return fn, fn != nil
	case func(context.Context, *Worker, *Message) (any, error):
		return fn, fn != nil
	}
	return nil, false
}

func asErrorHandler(v any) (ErrorHandler, bool) {
	switch fn := v.(type) {
	case ErrorHandler:
		return fn, fn != nil
	case func(context.Context, *Worker, error):
		return fn, fn != nil
	}
	return nil, false
}

// merge overlays the non-nil handlers of other
func (h Hooks) merge(other Hooks) Hooks {
	if other.Start != nil {
		h.Start = other.Start
	}
	if other.Message != nil {
		h.Message = other.Message
	}
	if other.Error != nil {
		h.Error = other.Error
	}
	return h
}
