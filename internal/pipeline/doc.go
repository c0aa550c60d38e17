/*
Package pipeline runs a fixed three-stage topology of worker pools.

# Overview

A Coordinator owns one Pool per Role:

	SOURCE --(source->transform)--> TRANSFORM --(transform->sink)--> SINK

Each pool runs a fixed number of slots. A slot runs one Worker at a time in
its own goroutine; a worker that panics or returns a Fatal error is reported
to the failure observers and replaced after a bounded backoff, without
affecting its siblings or the other stages. A worker that reaches its pool's
MaxExecutions is retired after its current message and replaced by a fresh
worker whose count starts at zero. Sources never recycle.

Consumers of a channel compete for envelopes, so each envelope goes to the
first idle worker. Order is FIFO per channel; there is no order across
workers.

# Hooks

Business logic is attached per role:

	c, err := pipeline.New(cfg, pipeline.WithLogger(logger))

	c.OnStart(pipeline.RoleSource, func(ctx context.Context, w *pipeline.Worker) error {
		for _, row := range rows {
			if err := w.Send(ctx, row); err != nil {
				return err
			}
		}
		return nil // source finished
	})

	c.OnMessage(pipeline.RoleTransform, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		var row Row
		if err := msg.Decode(&row); err != nil {
			return nil, err // logged, message skipped
		}
		return enrich(row), nil
	})

	c.OnMessage(pipeline.RoleSink, func(ctx context.Context, w *pipeline.Worker, msg *pipeline.Message) (any, error) {
		return nil, pipeline.Fatal(db.Insert(ctx, msg.Bytes())) // crash on failure
	})

	err = c.Run(ctx)

# Lifecycle

Start brings up SINK, TRANSFORM and SOURCE in that order. Stop works the
other way round: sources stop first, then each downstream pool drains what is
buffered. When every source returns, the pipeline drains and stops by itself.
*/
package pipeline
