package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenearth/esingest/bootstrap"
	"github.com/greenearth/esingest/strategy"
	"github.com/greenearth/esingest/typecontext"
)

type doc struct {
	ID string
	Text string
}

func testTC() *typecontext.TypeContext[doc] {
	return &typecontext.TypeContext[doc]{
		EntityTarget: typecontext.Index,
		WriteTarget: "posts",
		GetID: func(d doc) string { return d.ID },
	}
}

func testStrategy() *strategy.IngestStrategy[doc] {
	return strategy.NewIndexStrategy(testTC(), nil, strategy.AlwaysCreate{}, strategy.NoAlias{})
}

// scriptedTransport answers every _bulk POST with an all-OK response sized
// to match the request, and records every request body it saw.
type scriptedTransport struct {
	respond func(body []byte) (status int, respBody []byte)
	requests atomic.Int64
}

func (t *scriptedTransport) Perform(req *http.Request) (*http.Response, error) {
	t.requests.Add(1)
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	status, respBody := t.respond(body)
	return &http.Response{
		StatusCode: status,
		Body: io.NopCloser(bytes.NewReader(respBody)),
		Header: make(http.Header),
	}, nil
}

func countNDJSONLines(body []byte) int {
	n := 0
	for _, b := range body {
		if b == '\n' {
			n++
		}
	}
	return n
}

func allOKResponse(itemCount int) []byte {
	items := make([]map[string]any, itemCount)
	for i := range items {
		items[i] = map[string]any{"index": map[string]any{"status": 201, "_id": "x"}}
	}
	encoded, _ := json.Marshal(map[string]any{"took": 1, "errors": false, "items": items})
	return encoded
}

func TestChannel_WriteAndDrain(t *testing.T) {
	transport := &scriptedTransport{
		respond: func(body []byte) (int, []byte) {
			n := countNDJSONLines(body) / 2
			return 200, allOKResponse(n)
		},
	}

	opts := BufferOptions{
		InboundMaxSize: 1000,
		OutboundMaxSize: 10,
		OutboundMaxLifetime: 50 * time.Millisecond,
		ExportMaxConcurrency: 2,
		ExportMaxRetries: 3,
	}

	ch := NewChannel[doc](testStrategy(), transport, opts, nil)
	ctx := context.Background()
	require.NoError(t, ch.Bootstrap(ctx, &bootstrap.Context{Transport: transport}))
	require.NoError(t, ch.Start(ctx))

	for i := 0; i < 25; i++ {
		require.True(t, ch.TryWrite(doc{ID: "id", Text: "hi"}))
	}

	drained := ch.WaitForDrain(ctx, 2*time.Second)
	assert.True(t, drained)
	assert.Equal(t, Drained, ch.State())
	ch.Dispose()
}

func TestChannel_TryWriteRejectedWhenNotRunning(t *testing.T) {
	transport := &scriptedTransport{respond: func([]byte) (int, []byte) { return 200, allOKResponse(0) }}
	opts := BufferOptions{InboundMaxSize: 10, OutboundMaxSize: 5, OutboundMaxLifetime: time.Second, ExportMaxConcurrency: 1, ExportMaxRetries: 1}
	ch := NewChannel[doc](testStrategy(), transport, opts, nil)

	assert.False(t, ch.TryWrite(doc{ID: "1"}), "writes before Start must be rejected")
}

func TestChannel_RetriesRetryableItemsUpToBound(t *testing.T) {
	var attempt atomic.Int64
	transport := &scriptedTransport{
		respond: func(body []byte) (int, []byte) {
			n := countNDJSONLines(body) / 2
			if attempt.Add(1) == 1 {
				items := make([]map[string]any, n)
				for i := range items {
					items[i] = map[string]any{"index": map[string]any{"status": 429}}
				}
				encoded, _ := json.Marshal(map[string]any{"took": 1, "errors": true, "items": items})
				return 200, encoded
			}
			return 200, allOKResponse(n)
		},
	}

	opts := BufferOptions{
		InboundMaxSize: 100,
		OutboundMaxSize: 5,
		OutboundMaxLifetime: 20 * time.Millisecond,
		ExportMaxConcurrency: 1,
		ExportMaxRetries: 3,
		ExportBackoff: func(int) time.Duration { return time.Millisecond },
	}

	ch := NewChannel[doc](testStrategy(), transport, opts, nil)
	ctx := context.Background()
	require.NoError(t, ch.Bootstrap(ctx, &bootstrap.Context{Transport: transport}))
	require.NoError(t, ch.Start(ctx))

	for i := 0; i < 5; i++ {
		require.True(t, ch.TryWrite(doc{ID: "id"}))
	}

	drained := ch.WaitForDrain(ctx, 2*time.Second)
	assert.True(t, drained)
	assert.GreaterOrEqual(t, attempt.Load(), int64(2), "the retryable page must be re-sent at least once")
	ch.Dispose()
}

func TestChannel_FatalItemsDoNotBlockDrain(t *testing.T) {
	transport := &scriptedTransport{
		respond: func(body []byte) (int, []byte) {
			n := countNDJSONLines(body) / 2
			items := make([]map[string]any, n)
			for i := range items {
				items[i] = map[string]any{"index": map[string]any{"status": 400, "error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad"}}}
			}
			encoded, _ := json.Marshal(map[string]any{"took": 1, "errors": true, "items": items})
			return 200, encoded
		},
	}

	opts := BufferOptions{InboundMaxSize: 50, OutboundMaxSize: 5, OutboundMaxLifetime: 20 * time.Millisecond, ExportMaxConcurrency: 1, ExportMaxRetries: 2}
	ch := NewChannel[doc](testStrategy(), transport, opts, nil)
	ctx := context.Background()
	require.NoError(t, ch.Bootstrap(ctx, &bootstrap.Context{Transport: transport}))
	require.NoError(t, ch.Start(ctx))

	for i := 0; i < 5; i++ {
		require.True(t, ch.TryWrite(doc{ID: "id"}))
	}

	assert.True(t, ch.WaitForDrain(ctx, 2*time.Second), "fatal items must still reach a terminal state")
	ch.Dispose()
}

func TestBufferOptions_DerivedQuantities(t *testing.T) {
	d := computeDerived(BufferOptions{InboundMaxSize: 100_000, OutboundMaxSize: 1_000})
	assert.Equal(t, 1_000, d.batchExportSize)
	assert.Equal(t, 2_000, d.drainSize)
	assert.GreaterOrEqual(t, d.maxConcurrency, 1)
}

