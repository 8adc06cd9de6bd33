package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	responses map[string][]fakeResponse
	calls map[string]int
}

type fakeResponse struct {
	status int
	body any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string][]fakeResponse), calls: make(map[string]int)}
}

func (f *fakeTransport) on(method, path string, status int, body any) {
	key := method + " " + path
	f.responses[key] = append(f.responses[key], fakeResponse{status: status, body: body})
}

func (f *fakeTransport) Perform(req *http.Request) (*http.Response, error) {
	// Match on path alone; task submission paths carry wait_for_completion
	// in the query string, which on() calls don't need to predict.
	key := req.Method + " " + req.URL.Path
	seq := f.responses[key]
	idx := f.calls[key]
	f.calls[key] = idx + 1

	var resp fakeResponse
	if idx < len(seq) {
		resp = seq[idx]
	} else if len(seq) > 0 {
		resp = seq[len(seq)-1]
	} else {
		resp = fakeResponse{status: http.StatusNotFound, body: map[string]any{}}
	}

	encoded, _ := json.Marshal(resp.body)
	return &http.Response{
		StatusCode: resp.status,
		Body: io.NopCloser(bytes.NewReader(encoded)),
		Header: make(http.Header),
	}, nil
}

func TestTaskMonitor_PollTaskUntilCompleted(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodGet, "/_tasks/abc", 200, map[string]any{"completed": false})
	ft.on(http.MethodGet, "/_tasks/abc", 200, map[string]any{
			"completed": true,
			"response": map[string]any{"updated": 42},
		})

	m := &TaskMonitor{Transport: ft, PollInterval: 5 * time.Millisecond}
	result, err := m.PollTask(context.Background(), "abc", nil)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, int64(42), result.Updated)
}

func TestServerReindex_SubmitsAndPolls(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPost, "/_reindex", 200, map[string]any{"task": "task-1"})
	ft.on(http.MethodGet, "/_tasks/task-1", 200, map[string]any{
			"completed": true,
			"response": map[string]any{"created": 10},
		})

	m := &TaskMonitor{Transport: ft, PollInterval: 5 * time.Millisecond}
	result, err := ServerReindex(context.Background(), m, "posts-src", "posts-dst")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Created)
}

func TestUpdateByQuery_AppendsPipelineParam(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPost, "/posts/_update_by_query", 200, map[string]any{"task": "task-2"})
	ft.on(http.MethodGet, "/_tasks/task-2", 200, map[string]any{
			"completed": true,
			"response": map[string]any{"updated": 5},
		})

	m := &TaskMonitor{Transport: ft, PollInterval: 5 * time.Millisecond}
	result, err := UpdateByQuery(context.Background(), m, "posts", map[string]any{"match_all": map[string]any{}}, "my-pipeline")
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Updated)
}

func TestPointInTimeSearch_OpenSearchDispose(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPost, "/posts/_pit", 200, map[string]any{"id": "pit-1"})
	ft.on(http.MethodPost, "/_search", 200, map[string]any{
			"hits": map[string]any{
				"total": map[string]any{"value": 2},
				"hits": []map[string]any{
					{"_source": map[string]any{"id": "1"}, "sort": []any{1}},
					{"_source": map[string]any{"id": "2"}, "sort": []any{2}},
				},
			},
		})
	ft.on(http.MethodDelete, "/_pit", 200, map[string]any{"succeeded": true})

	pit, err := OpenPIT(context.Background(), ft, "posts", "1m")
	require.NoError(t, err)

	page, err := pit.Search(context.Background(), map[string]any{"match_all": map[string]any{}}, 2, nil, nil)
	require.NoError(t, err)
	assert.Len(t, page.Docs, 2)
	assert.Equal(t, int64(2), page.Total)

	require.NoError(t, pit.Dispose(context.Background()))
}

func TestPointInTimeSearch_IterateFlattensPages(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPost, "/posts/_pit", 200, map[string]any{"id": "pit-1"})
	ft.on(http.MethodPost, "/_search", 200, map[string]any{
			"hits": map[string]any{
				"total": map[string]any{"value": 3},
				"hits": []map[string]any{
					{"_source": map[string]any{"id": "1"}, "sort": []any{1}},
				},
			},
		})
	ft.on(http.MethodPost, "/_search", 200, map[string]any{
			"hits": map[string]any{
				"total": map[string]any{"value": 3},
				"hits": []map[string]any{
					{"_source": map[string]any{"id": "2"}, "sort": []any{2}},
				},
			},
		})
	ft.on(http.MethodPost, "/_search", 200, map[string]any{
			"hits": map[string]any{
				"total": map[string]any{"value": 3},
				"hits": []map[string]any{},
			},
		})

	pit, err := OpenPIT(context.Background(), ft, "posts", "1m")
	require.NoError(t, err)

	var seen []string
	err = pit.Iterate(context.Background(), map[string]any{"match_all": map[string]any{}}, 1, func(d json.RawMessage) bool {
			seen = append(seen, string(d))
			return true
		})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}
