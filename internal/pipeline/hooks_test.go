package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooksSet(t *testing.T) {
	start := func(ctx context.Context, w *Worker) error { return nil }
	message := func(ctx context.Context, w *Worker, msg *Message) (any, error) { return nil, nil }
	onError := func(ctx context.Context, w *Worker, err error) {}

	tests := []struct {
		name    string
		event   Event
		handler any
		wantErr bool
	}{
		{"start func", EventStart, start, false},
		{"start typed", EventStart, StartHandler(start), false},
		{"message func", EventMessage, message, false},
		{"error func", EventError, ErrorHandler(onError), false},
		{"start with message handler", EventStart, message, true},
		{"message with string", EventMessage, "nope", true},
		{"nil start", EventStart, StartHandler(nil), true},
		{"unknown event", Event("stage-end"), start, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Hooks
			err := h.set(tt.event, tt.handler)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHooksMerge(t *testing.T) {
	start := func(ctx context.Context, w *Worker) error { return nil }
	message := func(ctx context.Context, w *Worker, msg *Message) (any, error) { return nil, nil }

	h := Hooks{Start: start}.merge(Hooks{Message: message})
	assert.NotNil(t, h.Start)
	assert.NotNil(t, h.Message)
	assert.Nil(t, h.Error)
}

func TestRegisterAfterStart(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)

	block := make(chan struct{})
	require.NoError(t, c.OnStart(RoleSource, func(ctx context.Context, w *Worker) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}))
	require.NoError(t, c.OnMessage(RoleTransform, func(ctx context.Context, w *Worker, msg *Message) (any, error) {
		return msg, nil
	}))
	require.NoError(t, c.OnMessage(RoleSink, func(ctx context.Context, w *Worker, msg *Message) (any, error) {
		return nil, nil
	}))

	require.NoError(t, c.Start(context.Background()))
	defer func() {
		close(block)
		_ = c.Wait(context.Background())
	}()

	assert.ErrorIs(t, c.OnError(RoleSink, func(ctx context.Context, w *Worker, err error) {}), ErrStarted)
	assert.ErrorIs(t, c.Use(RoleSink, Hooks{}), ErrStarted)
	assert.ErrorIs(t, c.Start(context.Background()), ErrStarted)
}

func TestOnUnknownRole(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)

	assert.Error(t, c.On(Role(9), EventStart, func(ctx context.Context, w *Worker) error { return nil }))
}
