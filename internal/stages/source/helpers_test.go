package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

// runSources runs start on n source workers and returns every payload the
// sink received.
func runSources(t *testing.T, n int, start pipeline.StartHandler) []string {
	t.Helper()

	cfg := pipeline.DefaultConfig()
	cfg.QueueName = "source"
	cfg.OverflowDir = t.TempDir()
	cfg.Source.Processes = n
	cfg.Transform.Processes = 2
	cfg.DrainTimeout = 10 * time.Second

	c, err := pipeline.New(cfg)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []string
	)
	require.NoError(t, c.OnStart(pipeline.RoleSource, start))
	require.NoError(t, c.OnMessage(pipeline.RoleTransform, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		return msg, nil
	}))
	require.NoError(t, c.OnMessage(pipeline.RoleSink, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		mu.Lock()
		got = append(got, msg.String())
		mu.Unlock()
		return nil, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	return got
}
