package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greenearth/esingest/helpers"
	"github.com/greenearth/esingest/transport"
)

// CleanupOlderThanAsync deletes lookup entries older than maxAge.
func (o *Orchestrator) CleanupOlderThanAsync(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	query := map[string]any{
		"range": map[string]any{"created_at": map[string]any{"lt": cutoff}},
	}
	_, err := helpers.DeleteByQuery(ctx, o.taskMon, o.cfg.LookupIndex, query)
	return err
}

// CleanupOrphanedAsync removes lookup entries whose match value no longer
// appears in targetIndexH "CleanupOrphanedAsync(targetIndex)":
// PIT-scan the lookup in pages of ~1000, collapse each batch against the
// target with a terms aggregation, and delete-by-query the absent ones.
func (o *Orchestrator) CleanupOrphanedAsync(ctx context.Context, targetIndex string) error {
	const pageSize = 1000

	pit, err := helpers.OpenPIT(ctx, o.transport, o.cfg.LookupIndex, "2m")
	if err != nil {
		return fmt.Errorf("esingest/enrich: open pit on %s: %w", o.cfg.LookupIndex, err)
	}
	defer pit.Dispose(ctx)

	var searchAfter []any
	for {
		page, err := pit.Search(ctx, map[string]any{"match_all": map[string]any{}}, pageSize, searchAfter, nil)
		if err != nil {
			return err
		}
		if len(page.Docs) == 0 {
			break
		}

		matchValues := make([]string, 0, len(page.Docs))
		for _, raw := range page.Docs {
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				continue
			}
			if v, ok := doc[o.cfg.MatchField].(string); ok && v != "" {
				matchValues = append(matchValues, v)
			}
		}

		if len(matchValues) > 0 {
			present, err := o.presentMatchValues(ctx, targetIndex, matchValues)
			if err != nil {
				return err
			}

			absent := make([]string, 0, len(matchValues))
			for _, v := range matchValues {
				if !present[v] {
					absent = append(absent, v)
				}
			}
			if len(absent) > 0 {
				query := map[string]any{"terms": map[string]any{o.cfg.MatchField: absent}}
				if _, err := helpers.DeleteByQuery(ctx, o.taskMon, o.cfg.LookupIndex, query); err != nil {
					return err
				}
			}
		}

		if !page.HasMore {
			break
		}
		searchAfter = page.NextSearchAfter
	}

	return nil
}

// presentMatchValues collapses a batch of match values into the set that
// currently exists in targetIndex, via a size-0 terms aggregation.
func (o *Orchestrator) presentMatchValues(ctx context.Context, targetIndex string, values []string) (map[string]bool, error) {
	body := map[string]any{
		"size": 0,
		"query": map[string]any{"terms": map[string]any{o.cfg.MatchField: values}},
		"aggs": map[string]any{
			"present": map[string]any{
				"terms": map[string]any{"field": o.cfg.MatchField, "size": len(values)},
			},
		},
	}
	status, respBody, err := transport.Request(ctx, o.transport, http.MethodPost, "/"+targetIndex+"/_search", body)
	if err != nil {
		return nil, fmt.Errorf("esingest/enrich: collapse match values: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return nil, fmt.Errorf("esingest/enrich: POST /%s/_search returned %d: %s", targetIndex, status, respBody)
	}

	var resp struct {
		Aggregations struct {
			Present struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"present"`
		} `json:"aggregations"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("esingest/enrich: decode terms aggregation: %w", err)
	}

	present := make(map[string]bool, len(resp.Aggregations.Present.Buckets))
	for _, b := range resp.Aggregations.Present.Buckets {
		present[b.Key] = true
	}
	return present, nil
}

// PurgeAsync deletes every entry in the lookup index.
func (o *Orchestrator) PurgeAsync(ctx context.Context) error {
	_, err := helpers.DeleteByQuery(ctx, o.taskMon, o.cfg.LookupIndex, map[string]any{"match_all": map[string]any{}})
	return err
}
