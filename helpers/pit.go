// Package helpers implements the shared Elasticsearch collaborators:
// point-in-time paged search, the async task runners built on top of
// Elasticsearch's async task API, and the task-polling primitive both the
// orchestrator and the enrichment loop depend on.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/greenearth/esingest/transport"
)

// PointInTimeSearch pages through one index via a point-in-time plus
// search_after.
type PointInTimeSearch struct {
	transport transport.Interface
	index string
	keepAlive string
	pitID string
}

// OpenPIT opens a point-in-time against index with the given keep_alive and
// returns its pit id.
func OpenPIT(ctx context.Context, t transport.Interface, index, keepAlive string) (*PointInTimeSearch, error) {
	status, body, err := transport.Request(ctx, t, http.MethodPost, "/"+index+"/_pit?keep_alive="+keepAlive, nil)
	if err != nil {
		return nil, fmt.Errorf("esingest/helpers: open pit: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return nil, fmt.Errorf("esingest/helpers: POST /%s/_pit returned %d: %s", index, status, body)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("esingest/helpers: decode pit response: %w", err)
	}

	return &PointInTimeSearch{transport: t, index: index, keepAlive: keepAlive, pitID: resp.ID}, nil
}

// Page is one page of PIT search results.
type Page struct {
	Docs []json.RawMessage
	NextSearchAfter []any
	HasMore bool
	Total int64
}

// Search issues one _search against the open PIT, applying query and an
// optional slice configuration, paging from searchAfter (nil for the
// first page).
func (p *PointInTimeSearch) Search(ctx context.Context, query map[string]any, size int, searchAfter []any, slice *SliceConfig) (*Page, error) {
	body := map[string]any{
		"size": size,
		"query": query,
		"sort": []any{map[string]any{"_shard_doc": "asc"}},
		"pit": map[string]any{"id": p.pitID, "keep_alive": p.keepAlive},
	}
	if len(searchAfter) > 0 {
		body["search_after"] = searchAfter
	}
	if slice != nil {
		body["slice"] = map[string]any{"id": slice.ID, "max": slice.Max}
	}

	status, respBody, err := transport.Request(ctx, p.transport, http.MethodPost, "/_search", body)
	if err != nil {
		return nil, fmt.Errorf("esingest/helpers: pit search: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return nil, fmt.Errorf("esingest/helpers: POST /_search returned %d: %s", status, respBody)
	}

	var resp struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source json.RawMessage `json:"_source"`
				Sort []any `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("esingest/helpers: decode search response: %w", err)
	}

	docs := make([]json.RawMessage, len(resp.Hits.Hits))
	var nextSearchAfter []any
	for i, h := range resp.Hits.Hits {
		docs[i] = h.Source
		nextSearchAfter = h.Sort
	}

	return &Page{
		Docs: docs,
		NextSearchAfter: nextSearchAfter,
		HasMore: len(docs) == size,
		Total: resp.Hits.Total.Value,
	}, nil
}

// SliceConfig requests one slice of a sliced PIT scan via the slice
// search parameter.
type SliceConfig struct {
	ID int
	Max int
}

// Dispose calls DELETE /_pit.
func (p *PointInTimeSearch) Dispose(ctx context.Context) error {
	if p.pitID == "" {
		return nil
	}
	body := map[string]any{"id": p.pitID}
	status, respBody, err := transport.Request(ctx, p.transport, http.MethodDelete, "/_pit", body)
	if err != nil {
		return fmt.Errorf("esingest/helpers: dispose pit: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/helpers: DELETE /_pit returned %d: %s", status, respBody)
	}
	return nil
}

// Iterate drives repeated Search calls, yielding each page's documents
// flattened into a single sequence. yield returning false stops iteration
// early.
func (p *PointInTimeSearch) Iterate(ctx context.Context, query map[string]any, pageSize int, yield func(json.RawMessage) bool) error {
	var searchAfter []any
	for {
		page, err := p.Search(ctx, query, pageSize, searchAfter, nil)
		if err != nil {
			return err
		}
		for _, d := range page.Docs {
			if !yield(d) {
				return nil
			}
		}
		if !page.HasMore {
			return nil
		}
		searchAfter = page.NextSearchAfter
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
