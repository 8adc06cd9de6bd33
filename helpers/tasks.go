package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/greenearth/esingest/transport"
)

// TaskResult is the outcome of one async task runner call.
type TaskResult struct {
	Completed bool
	Created int64
	Updated int64
	Deleted int64
	VersionConflicts int64
	Error string
}

// TaskMonitor is the shared polling primitive both ServerReindex and the
// enrichment loop's update-by-query backfill depend on
// "TaskMonitor.PollTask".
type TaskMonitor struct {
	Transport transport.Interface
	PollInterval time.Duration
}

type taskSubmitResponse struct {
	Task string `json:"task"`
}

type taskStatusResponse struct {
	Completed bool `json:"completed"`
	Response struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
		Deleted int64 `json:"deleted"`
		VersionConflicts int64 `json:"version_conflicts"`
		Failures []any `json:"failures"`
	} `json:"response"`
	Error *struct {
		Reason string `json:"reason"`
	} `json:"error"`
}

// PollTask polls GET /_tasks/{id} at m.PollInterval until completed:true
// or ctx is cancelled. It yields a progress snapshot after
// every poll via onProgress (which may be nil).
func (m *TaskMonitor) PollTask(ctx context.Context, taskID string, onProgress func(TaskResult)) (TaskResult, error) {
	interval := m.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, body, err := transport.Request(ctx, m.Transport, http.MethodGet, "/_tasks/"+taskID, nil)
		if err != nil {
			return TaskResult{}, fmt.Errorf("esingest/helpers: poll task %s: %w", taskID, err)
		}
		if !transport.IsOKStatus(status) {
			return TaskResult{}, fmt.Errorf("esingest/helpers: GET /_tasks/%s returned %d: %s", taskID, status, body)
		}

		var raw taskStatusResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return TaskResult{}, fmt.Errorf("esingest/helpers: decode task status: %w", err)
		}

		result := TaskResult{
			Completed: raw.Completed,
			Created: raw.Response.Created,
			Updated: raw.Response.Updated,
			Deleted: raw.Response.Deleted,
			VersionConflicts: raw.Response.VersionConflicts,
		}
		if raw.Error != nil {
			result.Error = raw.Error.Reason
		}

		if onProgress != nil {
			onProgress(result)
		}

		if result.Completed {
			return result, nil
		}

		select {
			case <-ctx.Done():
			return result, ctx.Err()
			case <-ticker.C:
		}
	}
}

// submitAsyncTask posts body to path with wait_for_completion=false and
// returns the task id, the shared first step of ServerReindex,
// UpdateByQuery, and DeleteByQuery.
func submitAsyncTask(ctx context.Context, t transport.Interface, path string, body map[string]any) (string, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	status, respBody, err := transport.Request(ctx, t, http.MethodPost, path+sep+"wait_for_completion=false", body)
	if err != nil {
		return "", fmt.Errorf("esingest/helpers: submit task %s: %w", path, err)
	}
	if !transport.IsOKStatus(status) {
		return "", fmt.Errorf("esingest/helpers: POST %s returned %d: %s", path, status, respBody)
	}

	var resp taskSubmitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("esingest/helpers: decode task submission: %w", err)
	}
	return resp.Task, nil
}

// ServerReindex posts POST /_reindex and polls the resulting task, used by
// CompleteAsync's server-side reindex path.
func ServerReindex(ctx context.Context, m *TaskMonitor, sourceIndex, destIndex string) (TaskResult, error) {
	body := map[string]any{
		"source": map[string]any{"index": sourceIndex},
		"dest": map[string]any{"index": destIndex},
	}
	taskID, err := submitAsyncTask(ctx, m.Transport, "/_reindex", body)
	if err != nil {
		return TaskResult{}, err
	}
	return m.PollTask(ctx, taskID, nil)
}

// UpdateByQuery posts POST /{index}/_update_by_query and polls the
// resulting task. pipeline is appended as a query parameter when non-empty.
func UpdateByQuery(ctx context.Context, m *TaskMonitor, index string, query map[string]any, pipeline string) (TaskResult, error) {
	path := "/" + index + "/_update_by_query"
	if pipeline != "" {
		path += "?pipeline=" + pipeline
	}
	body := map[string]any{"query": query}
	taskID, err := submitAsyncTask(ctx, m.Transport, path, body)
	if err != nil {
		return TaskResult{}, err
	}
	return m.PollTask(ctx, taskID, nil)
}

// DeleteByQuery posts POST /{index}/_delete_by_query and polls the
// resulting task, used by the enrichment loop's cleanup operations.
func DeleteByQuery(ctx context.Context, m *TaskMonitor, index string, query map[string]any) (TaskResult, error) {
	path := "/" + index + "/_delete_by_query"
	body := map[string]any{"query": query}
	taskID, err := submitAsyncTask(ctx, m.Transport, path, body)
	if err != nil {
		return TaskResult{}, err
	}
	return m.PollTask(ctx, taskID, nil)
}
