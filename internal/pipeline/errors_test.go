package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatal(t *testing.T) {
	base := errors.New("database gone")

	assert.Nil(t, Fatal(nil))
	assert.False(t, IsFatal(base))

	fatal := Fatal(base)
	assert.True(t, IsFatal(fatal))
	assert.ErrorIs(t, fatal, base)
	assert.Equal(t, base.Error(), fatal.Error())

	wrapped := fmt.Errorf("message env_1: %w", fatal)
	assert.True(t, IsFatal(wrapped))
}

func TestWorkerCrashError(t *testing.T) {
	base := errors.New("boom")
	crash := &WorkerCrash{Role: RoleSink, WorkerID: "wrk_1", PoolIndex: 2, Generation: 3, Err: base}

	assert.Equal(t, "sink worker wrk_1 (slot 2, generation 3) crashed: boom", crash.Error())
	assert.ErrorIs(t, crash, base)

	crash.Panic = true
	assert.Contains(t, crash.Error(), "panicked")
}

func TestConfigurationError(t *testing.T) {
	err := configErr("sink.processes", "must be at least 1, got %d", 0)
	assert.Equal(t, "invalid configuration: sink.processes: must be at least 1, got 0", err.Error())

	cause := errors.New("permission denied")
	wrapped := &ConfigurationError{Field: "overflow_dir", Reason: "not usable", Err: cause}
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, IsConfigurationError(fmt.Errorf("start: %w", wrapped)))
}
