/*
Package tracing provides lightweight request tracing for the admin API.

Each request gets a span carrying a trace ID, taken from the X-Trace-ID
header when the caller sends one. Ended spans are queued to a goroutine that
logs them, and a full queue drops spans rather than blocking the request.

	tracer := tracing.New("admin", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	ctx, span := tracer.Start(ctx, "operation")
	defer span.End(0, nil)

Headers:
  - X-Trace-ID: identifies the whole request flow
  - X-Span-ID: identifies the current operation
*/
package tracing
