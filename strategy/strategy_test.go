package strategy

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

	"github.com/greenearth/esingest/bulk"
	"github.com/greenearth/esingest/typecontext"
)

type post struct {
	ID string
	Text string
}

func testTC() *typecontext.TypeContext[post] {
	return &typecontext.TypeContext[post]{
		EntityTarget: typecontext.Index,
		WriteTarget: "posts",
		DatePattern: "2006.01",
		UseBatchDate: true,
		GetID: func(p post) string { return p.ID },
	}
}

func TestIndexIngest_UpdateWhenIDPresent(t *testing.T) {
	tc := testTC()
	ingest := &IndexIngest[post]{TC: tc}

	op := ingest.Header(post{ID: "42", Text: "hi"}, "posts-2026.07", time.Now())
	assert.Equal(t, bulk.OpUpdate, op.Kind)
	assert.Equal(t, "42", op.ID)
	assert.Equal(t, "posts-2026.07", op.Index)
}

func TestIndexIngest_IndexWhenIDAbsent(t *testing.T) {
	tc := testTC()
	tc.GetID = func(post) string { return "" }
	ingest := &IndexIngest[post]{TC: tc}

	op := ingest.Header(post{Text: "hi"}, "posts-2026.07", time.Now())
	assert.Equal(t, bulk.OpIndex, op.Kind)
	assert.Empty(t, op.ID)
}

func TestIndexIngest_CreateModeWhenIDAbsent(t *testing.T) {
	tc := testTC()
	tc.GetID = func(post) string { return "" }
	tc.OperationMode = typecontext.ModeCreate
	ingest := &IndexIngest[post]{TC: tc}

	op := ingest.Header(post{Text: "hi"}, "posts-2026.07", time.Now())
	assert.Equal(t, bulk.OpCreate, op.Kind)
}

func TestDataStreamIngest_AlwaysCreateNoIndex(t *testing.T) {
	tc := testTC()
	tc.WriteTarget = "logs-posts-default"
	ingest := &DataStreamIngest[post]{TC: tc}

	op := ingest.Header(post{ID: "42"}, "ignored", time.Now())
	assert.Equal(t, bulk.OpCreate, op.Kind)
	assert.Empty(t, op.Index)
	assert.Equal(t, "/logs-posts-default/_bulk", ingest.BulkPath("ignored"))
}

func TestWiredStreamIngest_UsesLogsEndpoint(t *testing.T) {
	tc := testTC()
	ingest := &WiredStreamIngest[post]{TC: tc, LogsEndpoint: "/logs-posts-default@stream/_bulk"}
	assert.Equal(t, "/logs-posts-default@stream/_bulk", ingest.BulkPath("ignored"))

	op := ingest.Header(post{}, "ignored", time.Now())
	assert.Equal(t, bulk.OpCreate, op.Kind)
	assert.Empty(t, op.Index)
}

// fakeTransport mirrors bootstrap's test double.
type fakeTransport struct {
	responses map[string]fakeResponse
}

type fakeResponse struct {
	status int
	body any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]fakeResponse)}
}

func (f *fakeTransport) on(method, path string, status int, body any) {
	f.responses[method+" "+path] = fakeResponse{status: status, body: body}
}

func (f *fakeTransport) Perform(req *http.Request) (*http.Response, error) {
	key := req.Method + " " + req.URL.Path
	resp, ok := f.responses[key]
	if !ok {
		resp = fakeResponse{status: http.StatusNotFound, body: map[string]any{}}
	}
	encoded, _ := json.Marshal(resp.body)
	return &http.Response{
		StatusCode: resp.status,
		Body: io.NopCloser(bytes.NewReader(encoded)),
		Header: make(http.Header),
	}, nil
}

func TestAlwaysCreate_RendersDatedIndexName(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	name, reused, err := AlwaysCreate{}.Resolve(context.Background(), nil, "posts-*", "posts", "hash", now, "2006.01.02")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "posts-2026.07.30", name)
}

func TestHashBasedReuse_ReusesMatchingIndex(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodGet, "/_resolve/index/posts-*", http.StatusOK, map[string]any{
			"indices": []map[string]any{{"name": "posts-2026.07.29"}},
		})
	ft.on(http.MethodGet, "/posts-2026.07.29/_mapping", http.StatusOK, map[string]any{
			"posts-2026.07.29": map[string]any{
				"mappings": map[string]any{"_meta": map[string]any{"hash": "abc123"}},
			},
		})

	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	name, reused, err := HashBasedReuse{}.Resolve(context.Background(), ft, "posts-*", "posts", "abc123", now, "2006.01.02")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, "posts-2026.07.29", name)
}

func TestHashBasedReuse_CreatesNewOnHashMismatch(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodGet, "/_resolve/index/posts-*", http.StatusOK, map[string]any{
			"indices": []map[string]any{{"name": "posts-2026.07.29"}},
		})
	ft.on(http.MethodGet, "/posts-2026.07.29/_mapping", http.StatusOK, map[string]any{
			"posts-2026.07.29": map[string]any{
				"mappings": map[string]any{"_meta": map[string]any{"hash": "old-hash"}},
			},
		})

	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	name, reused, err := HashBasedReuse{}.Resolve(context.Background(), ft, "posts-*", "posts", "new-hash", now, "2006.01.02")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "posts-2026.07.30", name)
}

func TestNoAlias_IsNoop(t *testing.T) {
	assert.NoError(t, NoAlias{}.Apply(context.Background(), nil, "posts-2026.07.30"))
}

func TestLatestAndSearch_AppliesBothAliases(t *testing.T) {
	var captured map[string]any
	ft := newFakeTransport()
	ft.on(http.MethodPost, "/_aliases", http.StatusOK, map[string]any{"acknowledged": true})

	a := &LatestAndSearch{WriteTarget: "posts", ReadAlias: "posts-read"}
	require.NoError(t, a.Apply(context.Background(), captureTransport{fakeTransport: ft, dst: &captured}, "posts-2026.07.30"))

	actions := captured["actions"].([]any)
	assert.Len(t, actions, 4, "one remove+add pair for latest, one for the read alias")
}

// captureTransport wraps fakeTransport to capture the decoded request body
// for assertion, without changing fakeTransport's existing behavior.
type captureTransport struct {
	*fakeTransport
	dst *map[string]any
}

func (c captureTransport) Perform(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	_ = json.Unmarshal(body, c.dst)
	req.Body = io.NopCloser(bytes.NewReader(body))
	return c.fakeTransport.Perform(req)
}
