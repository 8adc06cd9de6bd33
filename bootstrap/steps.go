package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greenearth/esingest/transport"
	"github.com/greenearth/esingest/typecontext"
)

// Step is one idempotent bootstrap action. Every step compares a remote
// resource's embedded hash/description tag against the expected one and
// skips the write when equal.
type Step interface {
	Name() string
	Run(ctx context.Context, bc *Context) error
}

// existingHash fetches a resource at path and extracts either _meta.hash
// (templates) or a "[prefix:<value>]" marker from its description
// (pipelines/enrich policies). found is false if the resource does not
// exist (HTTP 404).
func existingHash(ctx context.Context, t transport.Interface, path string, viaDescription bool, markerPrefix string) (hash string, found bool, err error) {
	status, body, err := transport.Request(ctx, t, http.MethodGet, path, nil)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if !transport.IsOKStatus(status) {
		return "", false, fmt.Errorf("esingest/bootstrap: GET %s returned status %d", path, status)
	}

	if viaDescription {
		var resp map[string]struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", false, fmt.Errorf("esingest/bootstrap: decode %s: %w", path, err)
		}
		for _, v := range resp {
			return extractMarker(v.Description, markerPrefix), v.Description != "", nil
		}
		return "", false, nil
	}

	var resp map[string]struct {
		Template struct {
			Meta map[string]any `json:"_meta"`
		} `json:"template"`
		Meta map[string]any `json:"_meta"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("esingest/bootstrap: decode %s: %w", path, err)
	}
	for _, v := range resp {
		if h, ok := v.Template.Meta["hash"].(string); ok && h != "" {
			return h, true, nil
		}
		if h, ok := v.Meta["hash"].(string); ok && h != "" {
			return h, true, nil
		}
	}
	return "", len(resp) > 0, nil
}

func extractMarker(description, prefix string) string {
	marker := typecontext.HashMarker(prefix, "")
	marker = marker[:len(marker)-1] // trim trailing "]" so we can find the opening tag
	idx := indexOf(description, marker)
	if idx < 0 {
		return ""
	}
	rest := description[idx+len(marker):]
	end := indexOf(rest, "]")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// runOrRecord executes a single HTTP write and, on failure, either returns
// the error (Failure mode) or records it on the context and returns nil
// (Silent mode).
func runOrRecord(bc *Context, stepName string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("esingest/bootstrap: step %s: %w", stepName, err)
	if bc.Mode == Failure {
		return wrapped
	}
	bc.StepErrors = append(bc.StepErrors, wrapped)
	return nil
}

// --- IlmPolicyStep -----------------------------------------------------

// IlmPolicyStep writes PUT _ilm/policy/{name}.
type IlmPolicyStep struct {
	PolicyName string
	HotMaxAge string
	DeleteMinAge string
}

func (s *IlmPolicyStep) Name() string { return "IlmPolicyStep" }

func (s *IlmPolicyStep) Run(ctx context.Context, bc *Context) error {
	path := "/_ilm/policy/" + s.PolicyName
	body := ilmPolicyBody(s.HotMaxAge, s.DeleteMinAge)
	encoded, err := json.Marshal(body)
	if err != nil {
		return runOrRecord(bc, s.Name(), err)
	}
	hash := typecontext.ChannelHash(encoded, nil, bc.BootstrapSalt)

	existing, found, err := existingHash(ctx, bc.Transport, path, false, "hash")
	if err != nil {
		return runOrRecord(bc, s.Name(), err)
	}
	if found && existing == hash {
		return nil
	}

	body["_meta"] = map[string]any{"hash": hash}
	status, respBody, err := transport.Request(ctx, bc.Transport, http.MethodPut, path, body)
	if err != nil {
		return runOrRecord(bc, s.Name(), err)
	}
	if !transport.IsOKStatus(status) {
		return runOrRecord(bc, s.Name(), fmt.Errorf("PUT %s returned %d: %s", path, status, respBody))
	}
	return nil
}

func ilmPolicyBody(hotMaxAge, deleteMinAge string) map[string]any {
	phases := map[string]any{}
	hot := map[string]any{"actions": map[string]any{"rollover": map[string]any{}}}
	if hotMaxAge != "" {
		hot["actions"].(map[string]any)["rollover"].(map[string]any)["max_age"] = hotMaxAge
	}
	phases["hot"] = hot
	if deleteMinAge != "" {
		phases["delete"] = map[string]any{
			"min_age": deleteMinAge,
			"actions": map[string]any{"delete": map[string]any{}},
		}
	}
	return map[string]any{"policy": map[string]any{"phases": phases}}
}

// --- ComponentTemplateStep ----------------------------------------------

// ComponentTemplateStep writes the "{templateName}-mappings" and
// "{templateName}-settings" component templates. It sets bc.ChannelHash —
// every subsequent step reads it read-only.
type ComponentTemplateStep struct {
	IlmPolicyName string
}

func (s *ComponentTemplateStep) Name() string { return "ComponentTemplateStep" }

func (s *ComponentTemplateStep) Run(ctx context.Context, bc *Context) error {
	hash := typecontext.ChannelHash(bc.MappingsJSON, bc.SettingsJSON, bc.BootstrapSalt)
	bc.ChannelHash = hash

	mappingsPath := "/_component_template/" + bc.TemplateName + "-mappings"
	settingsPath := "/_component_template/" + bc.TemplateName + "-settings"

	var mappingsBody map[string]any
	if err := json.Unmarshal(bc.MappingsJSON, &mappingsBody); err != nil {
		return runOrRecord(bc, s.Name(), fmt.Errorf("unmarshal mappings json: %w", err))
	}
	mappingsTemplate := map[string]any{
		"template": map[string]any{"mappings": mappingsBody},
		"_meta": map[string]any{"hash": hash},
	}

	var settingsBody map[string]any
	if err := json.Unmarshal(bc.SettingsJSON, &settingsBody); err != nil {
		return runOrRecord(bc, s.Name(), fmt.Errorf("unmarshal settings json: %w", err))
	}
	settingsInner := map[string]any{"index": settingsBody}
	if s.IlmPolicyName != "" {
		settingsInner["lifecycle"] = map[string]any{"name": s.IlmPolicyName}
	}
	settingsTemplate := map[string]any{
		"template": map[string]any{"settings": settingsInner},
		"_meta": map[string]any{"hash": hash},
	}

	if err := putIfChanged(ctx, bc, mappingsPath, mappingsTemplate, hash); err != nil {
		return err
	}
	return putIfChanged(ctx, bc, settingsPath, settingsTemplate, hash)
}

func putIfChanged(ctx context.Context, bc *Context, path string, body map[string]any, hash string) error {
	existing, found, err := existingHash(ctx, bc.Transport, path, false, "hash")
	if err != nil {
		return runOrRecord(bc, "ComponentTemplateStep", err)
	}
	if found && existing == hash {
		return nil
	}
	status, respBody, err := transport.Request(ctx, bc.Transport, http.MethodPut, path, body)
	if err != nil {
		return runOrRecord(bc, "ComponentTemplateStep", err)
	}
	if !transport.IsOKStatus(status) {
		return runOrRecord(bc, "ComponentTemplateStep", fmt.Errorf("PUT %s returned %d: %s", path, status, respBody))
	}
	return nil
}

// --- DataStreamLifecycleStep --------------------------------------------

// DataStreamLifecycleStep records retention in the context for subsequent
// steps. It performs no remote write of its own; DataStreamTemplateStep
// reads bc.DataStreamLifecycleRetention.
type DataStreamLifecycleStep struct {
	Retention time.Duration
}

func (s *DataStreamLifecycleStep) Name() string { return "DataStreamLifecycleStep" }

func (s *DataStreamLifecycleStep) Run(_ context.Context, bc *Context) error {
	bc.DataStreamLifecycleRetention = s.Retention
	return nil
}

// --- IndexTemplateStep / DataStreamTemplateStep -------------------------

// IndexTemplateStep creates the composable index template for a plain
// index target.
type IndexTemplateStep struct {
	IndexPatterns []string
	Priority int
}

func (s *IndexTemplateStep) Name() string { return "IndexTemplateStep" }

func (s *IndexTemplateStep) Run(ctx context.Context, bc *Context) error {
	path := "/_index_template/" + bc.TemplateName
	body := map[string]any{
		"index_patterns": s.IndexPatterns,
		"priority": s.Priority,
		"composed_of": []string{bc.TemplateName + "-mappings", bc.TemplateName + "-settings"},
		"_meta": map[string]any{
			"hash": bc.ChannelHash,
			"assembly_version": 1,
		},
	}
	return putTemplateIfChanged(ctx, bc, s.Name(), path, body)
}

// DataStreamTemplateStep creates the composable template for a data-stream
// target: includes "data_stream": {} and references built-in component
// templates.
type DataStreamTemplateStep struct {
	IndexPatterns []string
	Priority int
}

func (s *DataStreamTemplateStep) Name() string { return "DataStreamTemplateStep" }

func (s *DataStreamTemplateStep) Run(ctx context.Context, bc *Context) error {
	path := "/_index_template/" + bc.TemplateName
	composedOf := []string{bc.TemplateName + "-mappings", bc.TemplateName + "-settings", "data-streams-mappings"}
	switch bc.DataStreamType {
		case "logs":
		composedOf = append(composedOf, "logs-mappings", "logs-settings")
		case "metrics":
		composedOf = append(composedOf, "metrics-mappings", "metrics-settings")
	}

	body := map[string]any{
		"index_patterns": s.IndexPatterns,
		"priority": s.Priority,
		"data_stream": map[string]any{},
		"composed_of": composedOf,
		"_meta": map[string]any{
			"hash": bc.ChannelHash,
			"assembly_version": 1,
		},
	}
	if bc.DataStreamLifecycleRetention > 0 {
		retention := fmt.Sprintf("%ds", int64(bc.DataStreamLifecycleRetention/time.Second))
		body["template"] = map[string]any{"lifecycle": map[string]any{"data_retention": retention}}
	}
	return putTemplateIfChanged(ctx, bc, s.Name(), path, body)
}

func putTemplateIfChanged(ctx context.Context, bc *Context, stepName, path string, body map[string]any) error {
	existing, found, err := existingHash(ctx, bc.Transport, path, false, "hash")
	if err != nil {
		return runOrRecord(bc, stepName, err)
	}
	if found && existing == bc.ChannelHash {
		return nil
	}
	status, respBody, err := transport.Request(ctx, bc.Transport, http.MethodPut, path, body)
	if err != nil {
		return runOrRecord(bc, stepName, err)
	}
	if !transport.IsOKStatus(status) {
		return runOrRecord(bc, stepName, fmt.Errorf("PUT %s returned %d: %s", path, status, respBody))
	}
	return nil
}

// --- InferenceEndpointStep ----------------------------------------------

// InferenceEndpointStep creates or asserts the existence of an inference
// endpoint, used by the AI enrichment orchestrator.
type InferenceEndpointStep struct {
	InferenceID string
	ServiceType string
	NumThreads int
	UsePreexisting bool
	Timeout time.Duration
}

func (s *InferenceEndpointStep) Name() string { return "InferenceEndpointStep" }

func (s *InferenceEndpointStep) Run(ctx context.Context, bc *Context) error {
	path := "/_inference/" + s.ServiceType + "/" + s.InferenceID

	status, _, err := transport.Request(ctx, bc.Transport, http.MethodGet, path, nil)
	if err != nil {
		return runOrRecord(bc, s.Name(), err)
	}
	if status == http.StatusOK {
		// Already provisioned; idempotent no-op whether this run owns the
		// endpoint or is asserting a preexisting one.
		return nil
	}

	body := map[string]any{
		"service": s.ServiceType,
		"num_threads": s.NumThreads,
		"timeout_millis": s.Timeout.Milliseconds(),
	}
	putStatus, respBody, err := transport.Request(ctx, bc.Transport, http.MethodPut, path, body)
	if err != nil {
		return runOrRecord(bc, s.Name(), err)
	}
	if !transport.IsOKStatus(putStatus) {
		return runOrRecord(bc, s.Name(), fmt.Errorf("PUT %s returned %d: %s", path, putStatus, respBody))
	}
	return nil
}

// --- NoopStep ------------------------------------------------------------

// NoopStep is used by wired streams, whose bootstrap is performed by
// Elasticsearch itself.
type NoopStep struct{}

func (NoopStep) Name() string { return "NoopStep" }
func (NoopStep) Run(context.Context, *Context) error { return nil }
