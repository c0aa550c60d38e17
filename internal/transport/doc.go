/*
Package transport moves envelopes between pipeline stages.

# Overview

A Channel is a bounded FIFO queue shared by every worker of the producing
stage and every worker of the consuming stage. Consumers compete for
envelopes, so each envelope is delivered to the first idle receiver.

Payloads up to the inline threshold travel inside the envelope. Larger
payloads are written to a Spool and only the file reference travels; the
receiver reads the payload back and deletes the file when it releases the
delivery.

# Usage

	spool, err := transport.NewSpool(paths.OverflowRoot(), "etl", transport.CompressionNone)
	ch := transport.NewChannel("source->transform", 1024, spool, transport.DefaultInlineThreshold)

	// producer
	err = ch.Send(ctx, payload, transport.EncodingRaw)

	// consumer
	d, err := ch.Receive(ctx)
	if errors.Is(err, transport.ErrChannelClosed) {
		return
	}
	defer d.Release()

# Shutdown

Close stops new sends; receivers drain what is buffered and then see
ErrChannelClosed. Discard drops whatever is still buffered and deletes the
associated spill files.
*/
package transport
