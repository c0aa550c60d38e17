package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

// runPipeline sends records through a pass-through transform into sink
func runPipeline(t *testing.T, records []any, sink pipeline.MessageHandler) {
	t.Helper()

	cfg := pipeline.DefaultConfig()
	cfg.QueueName = "sink"
	cfg.OverflowDir = t.TempDir()
	cfg.Sink.Processes = 3
	cfg.DrainTimeout = 10 * time.Second

	c, err := pipeline.New(cfg)
	require.NoError(t, err)

	require.NoError(t, c.OnStart(pipeline.RoleSource, func(ctx context.Context, w *pipeline.Worker) error {
		for _, r := range records {
			if err := w.Send(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, c.OnMessage(pipeline.RoleTransform, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		return msg, nil
	}))
	require.NoError(t, c.OnMessage(pipeline.RoleSink, sink))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
}
