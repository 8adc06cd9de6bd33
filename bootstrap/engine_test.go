package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenearth/esingest/typecontext"
)

// fakeTransport is a minimal transport.Interface double keyed on "METHOD
// path", in the style of preference for small hand-rolled
// fakes over a mocking framework (no mock library appears in go.mod).
type fakeTransport struct {
	responses map[string]fakeResponse
	puts int
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
	if req.Method == http.MethodPut {
		f.puts++
	}
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

func TestComponentTemplateStep_SetsChannelHashAndWritesBothTemplates(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPut, "/_component_template/posts-mappings", http.StatusOK, map[string]any{"acknowledged": true})
	ft.on(http.MethodPut, "/_component_template/posts-settings", http.StatusOK, map[string]any{"acknowledged": true})

	bc := &Context{
		Transport: ft,
		Mode: Failure,
		TemplateName: "posts",
		MappingsJSON: []byte(`{"properties": {"text": {"type": "text"}}}`),
		SettingsJSON: []byte(`{"number_of_shards": 1}`),
	}

	step := &ComponentTemplateStep{}
	require.NoError(t, step.Run(context.Background(), bc))
	assert.Len(t, bc.ChannelHash, 64, "ChannelHash is a sha256 hex digest")
	assert.Equal(t, 2, ft.puts, "both the mappings and settings component templates must be written")
}

func TestComponentTemplateStep_SkipsWriteWhenHashMatches(t *testing.T) {
	ft := newFakeTransport()

	bc := &Context{
		Transport: ft,
		Mode: Failure,
		TemplateName: "posts",
		MappingsJSON: []byte(`{"properties": {}}`),
		SettingsJSON: []byte(`{}`),
	}
	expectedHash := typecontext.ChannelHash(bc.MappingsJSON, bc.SettingsJSON, bc.BootstrapSalt)

	existing := map[string]any{
		"posts-mappings": map[string]any{
			"template": map[string]any{},
			"_meta": map[string]any{"hash": expectedHash},
		},
	}
	ft.on(http.MethodGet, "/_component_template/posts-mappings", http.StatusOK, existing)
	existingSettings := map[string]any{
		"posts-settings": map[string]any{
			"template": map[string]any{},
			"_meta": map[string]any{"hash": expectedHash},
		},
	}
	ft.on(http.MethodGet, "/_component_template/posts-settings", http.StatusOK, existingSettings)

	require.NoError(t, (&ComponentTemplateStep{}).Run(context.Background(), bc))
	assert.Equal(t, 0, ft.puts, "no PUT should be issued when the embedded hash already matches")
}

func TestIlmPolicyStep_WritesPolicyBody(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPut, "/_ilm/policy/posts-policy", http.StatusOK, map[string]any{"acknowledged": true})
	bc := &Context{Transport: ft, Mode: Failure, BootstrapSalt: "salt"}

	step := &IlmPolicyStep{PolicyName: "posts-policy", HotMaxAge: "7d", DeleteMinAge: "30d"}
	require.NoError(t, step.Run(context.Background(), bc))
	assert.Equal(t, 1, ft.puts)
}

func TestEngine_FailureModeAbortsOnFirstError(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPut, "/_ilm/policy/posts-policy", http.StatusInternalServerError, map[string]any{"error": "boom"})

	bc := &Context{Transport: ft, Mode: Failure, BootstrapSalt: "salt"}

	ran := false
	steps := []Step{
		&IlmPolicyStep{PolicyName: "posts-policy"},
		stepFunc(func(context.Context, *Context) error { ran = true; return nil }),
	}

	err := NewEngine(steps...).Run(context.Background(), bc)
	require.Error(t, err)
	assert.False(t, ran, "later steps must not run after a Failure-mode abort")
}

func TestEngine_SilentModeRunsAllStepsAndRecordsErrors(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPut, "/_ilm/policy/posts-policy", http.StatusInternalServerError, map[string]any{"error": "boom"})

	bc := &Context{Transport: ft, Mode: Silent, BootstrapSalt: "salt"}

	ran := false
	steps := []Step{
		&IlmPolicyStep{PolicyName: "posts-policy"},
		stepFunc(func(context.Context, *Context) error { ran = true; return nil }),
	}

	require.NoError(t, NewEngine(steps...).Run(context.Background(), bc))
	assert.True(t, ran, "Silent mode must continue to later steps")
	assert.Len(t, bc.StepErrors, 1)
}

func TestDataStreamLifecycleStep_RecordsRetentionOnly(t *testing.T) {
	ft := newFakeTransport()
	bc := &Context{Transport: ft, Mode: Failure}

	step := &DataStreamLifecycleStep{Retention: 0}
	require.NoError(t, step.Run(context.Background(), bc))
	assert.Equal(t, 0, ft.puts, "DataStreamLifecycleStep performs no remote write")
}

func TestInferenceEndpointStep_NoopWhenAlreadyProvisioned(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodGet, "/_inference/elasticsearch/my-endpoint", http.StatusOK, map[string]any{})

	bc := &Context{Transport: ft, Mode: Failure}
	step := &InferenceEndpointStep{InferenceID: "my-endpoint", ServiceType: "elasticsearch"}
	require.NoError(t, step.Run(context.Background(), bc))
	assert.Equal(t, 0, ft.puts, "an existing endpoint must not be re-created")
}

func TestInferenceEndpointStep_CreatesWhenMissing(t *testing.T) {
	ft := newFakeTransport()
	ft.on(http.MethodPut, "/_inference/elasticsearch/my-endpoint", http.StatusOK, map[string]any{"acknowledged": true})
	bc := &Context{Transport: ft, Mode: Failure}
	step := &InferenceEndpointStep{InferenceID: "my-endpoint", ServiceType: "elasticsearch", NumThreads: 2}
	require.NoError(t, step.Run(context.Background(), bc))
	assert.Equal(t, 1, ft.puts)
}

func TestNoopStep_NeverWrites(t *testing.T) {
	ft := newFakeTransport()
	bc := &Context{Transport: ft, Mode: Failure}
	require.NoError(t, NoopStep{}.Run(context.Background(), bc))
	assert.Equal(t, 0, ft.puts)
}

// stepFunc adapts a plain function to the Step interface for tests.
type stepFunc func(context.Context, *Context) error

func (f stepFunc) Name() string { return "stepFunc" }
func (f stepFunc) Run(ctx context.Context, bc *Context) error { return f(ctx, bc) }
