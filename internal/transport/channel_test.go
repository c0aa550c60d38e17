package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	sends   int
	spilled int
}

func (o *recordingObserver) ObserveSend(_ string, _ int, spilled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sends++
	if spilled {
		o.spilled++
	}
}

func spillCount(t *testing.T, s *Spool) int {
	t.Helper()
	n, err := s.Count()
	require.NoError(t, err)
	return n
}

func TestChannelInlineAndOverflow(t *testing.T) {
	const threshold = 8192

	tests := []struct {
		name    string
		size    int
		spilled bool
	}{
		{"empty", 0, false},
		{"small", 100, false},
		{"at threshold", threshold, false},
		{"one over threshold", threshold + 1, true},
		{"one mebibyte", 1 << 20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			spool := newTestSpool(t, CompressionNone)
			ch := NewChannel("test", 4, spool, threshold)

			payload := bytes.Repeat([]byte{0xAB}, tt.size)
			require.NoError(t, ch.Send(ctx, payload, EncodingRaw))

			d, err := ch.Receive(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.spilled, d.Envelope.Spilled())
			assert.Equal(t, tt.size, d.Envelope.Size)
			assert.Equal(t, EncodingRaw, d.Envelope.Encoding)
			assert.True(t, bytes.Equal(payload, d.Payload))

			if tt.spilled {
				assert.Empty(t, d.Envelope.Payload)
				assert.FileExists(t, d.Envelope.OverflowRef)
			} else {
				assert.Empty(t, d.Envelope.OverflowRef)
			}

			require.NoError(t, d.Release())
			require.NoError(t, d.Release())
			assert.Zero(t, spillCount(t, spool))
		})
	}
}

func TestChannelFIFO(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel("fifo", 16, nil, DefaultInlineThreshold)

	for i := 0; i < 10; i++ {
		require.NoError(t, ch.Send(ctx, []byte(fmt.Sprintf("msg-%d", i)), EncodingRaw))
	}
	assert.Equal(t, 10, ch.Len())
	assert.Equal(t, 16, ch.Cap())

	for i := 0; i < 10; i++ {
		d, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(d.Payload))
	}
}

func TestChannelSendCopiesInlinePayload(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel("reuse", 8, newTestSpool(t, CompressionNone), 16)

	buf := make([]byte, 5)
	for i := 0; i < 5; i++ {
		copy(buf, fmt.Sprintf("msg-%d", i))
		require.NoError(t, ch.Send(ctx, buf, EncodingRaw))
	}
	copy(buf, "xxxxx")

	for i := 0; i < 5; i++ {
		d, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.False(t, d.Envelope.Spilled())
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(d.Payload))
		require.NoError(t, d.Release())
	}
}

func TestChannelBackpressure(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel("bp", 1, nil, DefaultInlineThreshold)

	require.NoError(t, ch.Send(ctx, []byte("first"), EncodingRaw))

	sent := make(chan error, 1)
	go func() {
		sent <- ch.Send(ctx, []byte("second"), EncodingRaw)
	}()

	select {
	case <-sent:
		t.Fatal("send should block while the channel is full")
	case <-time.After(50 * time.Millisecond):
	}

	d, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(d.Payload))

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after receive")
	}

	d, err = ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(d.Payload))
}

func TestChannelSendCancelledRemovesSpill(t *testing.T) {
	spool := newTestSpool(t, CompressionNone)
	ch := NewChannel("cancel", 1, spool, 16)

	require.NoError(t, ch.Send(context.Background(), []byte("x"), EncodingRaw))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ch.Send(ctx, bytes.Repeat([]byte("y"), 64), EncodingRaw)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, spillCount(t, spool))
}

func TestChannelCloseDrains(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel("close", 8, nil, DefaultInlineThreshold)

	require.NoError(t, ch.Send(ctx, []byte("a"), EncodingRaw))
	require.NoError(t, ch.Send(ctx, []byte("b"), EncodingRaw))

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.True(t, ch.Closed())

	assert.ErrorIs(t, ch.Send(ctx, []byte("c"), EncodingRaw), ErrChannelClosed)

	for _, want := range []string{"a", "b"} {
		d, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(d.Payload))
	}

	_, err := ch.Receive(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelCloseUnblocksSender(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel("unblock", 1, nil, DefaultInlineThreshold)
	require.NoError(t, ch.Send(ctx, []byte("fill"), EncodingRaw))

	sent := make(chan error, 1)
	go func() {
		sent <- ch.Send(ctx, []byte("blocked"), EncodingRaw)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-sent:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked sender was not released by close")
	}
}

func TestChannelReceiveCancelled(t *testing.T) {
	ch := NewChannel("idle", 1, nil, DefaultInlineThreshold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelDiscard(t *testing.T) {
	ctx := context.Background()
	spool := newTestSpool(t, CompressionNone)
	ch := NewChannel("discard", 8, spool, 16)

	for i := 0; i < 3; i++ {
		require.NoError(t, ch.Send(ctx, bytes.Repeat([]byte("z"), 32), EncodingRaw))
	}
	require.NoError(t, ch.Send(ctx, []byte("small"), EncodingRaw))
	assert.Equal(t, 3, spillCount(t, spool))

	require.NoError(t, ch.Close())
	assert.Equal(t, 4, ch.Discard())
	assert.Zero(t, spillCount(t, spool))
	assert.Zero(t, ch.Len())
}

func TestChannelOverflowWithoutSpool(t *testing.T) {
	ch := NewChannel("nospool", 1, nil, 4)

	err := ch.Send(context.Background(), []byte("too large"), EncodingRaw)
	assert.ErrorIs(t, err, ErrNoSpool)
	assert.True(t, IsOverflowIO(err))
	assert.Zero(t, ch.Len())
}

func TestChannelUnwritableOverflowDir(t *testing.T) {
	spool := newTestSpool(t, CompressionNone)
	require.NoError(t, os.RemoveAll(spool.Dir()))
	require.NoError(t, os.WriteFile(spool.Dir(), nil, 0o600))

	ch := NewChannel("broken", 1, spool, 4)
	err := ch.Send(context.Background(), []byte("too large"), EncodingRaw)

	assert.True(t, IsOverflowIO(err))
	assert.Zero(t, ch.Len(), "payload must not fall back to inline transport")
}

func TestChannelReceiveMissingSpill(t *testing.T) {
	ctx := context.Background()
	spool := newTestSpool(t, CompressionNone)
	ch := NewChannel("missing", 1, spool, 4)

	require.NoError(t, ch.Send(ctx, []byte("spilled payload"), EncodingRaw))
	_, err := spool.Sweep()
	require.NoError(t, err)

	d, err := ch.Receive(ctx)
	require.Error(t, err)
	require.NotNil(t, d)

	var ovf *OverflowIOError
	require.True(t, errors.As(err, &ovf))
	assert.Equal(t, d.Envelope.ID, ovf.EnvelopeID)
	assert.NoError(t, d.Release())
}

func TestChannelObserver(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	ch := NewChannel("observed", 4, newTestSpool(t, CompressionNone), 4, WithObserver(obs))

	require.NoError(t, ch.Send(ctx, []byte("ab"), EncodingRaw))
	require.NoError(t, ch.Send(ctx, []byte("abcdefgh"), EncodingJSON))

	assert.Equal(t, 2, obs.sends)
	assert.Equal(t, 1, obs.spilled)
}

func TestChannelCompetingReceivers(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel("fanout", 8, nil, DefaultInlineThreshold)

	const total = 500
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, err := ch.Receive(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[string(d.Payload)]++
				mu.Unlock()
				_ = d.Release()
			}
		}()
	}

	for i := 0; i < total; i++ {
		require.NoError(t, ch.Send(ctx, []byte(fmt.Sprintf("%d", i)), EncodingRaw))
	}
	require.NoError(t, ch.Close())
	wg.Wait()

	assert.Len(t, seen, total)
	for k, n := range seen {
		assert.Equal(t, 1, n, k)
	}
}
