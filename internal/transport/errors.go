package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned by Send after Close, and by Receive once a
	// closed channel has been drained. Receivers treat it as end-of-stream.
	ErrChannelClosed = errors.New("channel closed")

	// ErrNoSpool is returned when a payload must spill but the channel has no
	// overflow storage configured.
	ErrNoSpool = errors.New("no overflow storage configured")
)

// OverflowIOError reports a failure writing or reading a spilled payload.
// It is message specific: the envelope is neither dropped nor sent inline.
type OverflowIOError struct {
	Op         string // "write", "read" or "remove"
	EnvelopeID string
	Path       string
	Err        error
}

func (e *OverflowIOError) Error() string {
	return fmt.Sprintf("overflow %s %s (%s): %v", e.Op, e.EnvelopeID, e.Path, e.Err)
}

func (e *OverflowIOError) Unwrap() error {
	return e.Err
}

// IsOverflowIO reports whether err is, or wraps, an OverflowIOError
func IsOverflowIO(err error) bool {
	var target *OverflowIOError
	return errors.As(err, &target)
}
