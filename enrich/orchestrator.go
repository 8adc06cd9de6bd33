package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/greenearth/esingest/bulk"
	"github.com/greenearth/esingest/helpers"
	"github.com/greenearth/esingest/transport"
)

// Orchestrator drives InitializeAsync and EnrichAsync against one lookup
// index / enrich policy / pipeline triple.
type Orchestrator struct {
	cfg Config
	transport transport.Interface
	taskMon *helpers.TaskMonitor
	encoder *bulk.Encoder
}

// New builds an Orchestrator for the given enrichment config.
func New(cfg Config, t transport.Interface) *Orchestrator {
	return &Orchestrator{
		cfg: cfg.withDefaults(),
		transport: t,
		taskMon: &helpers.TaskMonitor{Transport: t, PollInterval: time.Second},
		encoder: bulk.NewEncoder(),
	}
}

// stalenessQuery builds a bool.should query: one "field missing" /
// "companion hash mismatched" pair of clauses per field.
func stalenessQuery(fields []FieldSpec, hashes map[string]string) map[string]any {
	should := make([]map[string]any, 0, len(fields)*2)
	for _, f := range fields {
		should = append(should,
			map[string]any{
				"bool": map[string]any{
					"must_not": map[string]any{"exists": map[string]any{"field": f.Name}},
				},
			},
			map[string]any{
				"bool": map[string]any{
					"must_not": map[string]any{"term": map[string]any{phantomField(f.Name): hashes[f.Name]}},
				},
			},
		)
	}
	return map[string]any{
		"bool": map[string]any{"should": should, "minimum_should_match": 1},
	}
}

// EnrichAsync sweeps targetIndex for stale or missing enrichment, bounded
// by cfg.MaxEnrichmentsPerRun.
func (o *Orchestrator) EnrichAsync(ctx context.Context, targetIndex string) (Result, error) {
	var result Result

	hashes := fieldHashes(o.cfg.Fields)
	query := stalenessQuery(o.cfg.Fields, hashes)

	pit, err := helpers.OpenPIT(ctx, o.transport, targetIndex, "2m")
	if err != nil {
		return result, fmt.Errorf("esingest/enrich: open pit on %s: %w", targetIndex, err)
	}
	defer pit.Dispose(ctx)

	var searchAfter []any
	anyEnriched := false

	for {
		if result.Enriched+result.Failed >= o.cfg.MaxEnrichmentsPerRun {
			result.ReachedLimit = true
			break
		}

		page, err := pit.Search(ctx, query, o.cfg.PageSize, searchAfter, nil)
		if err != nil {
			return result, err
		}
		if len(page.Docs) == 0 {
			break
		}
		result.TotalCandidates += len(page.Docs)

		lookupDocs, stop := o.enrichPage(ctx, page.Docs, hashes, &result)
		if len(lookupDocs) > 0 {
			if err := o.bulkUpsertLookup(ctx, lookupDocs); err != nil {
				return result, err
			}
			anyEnriched = true
		}
		if stop {
			result.ReachedLimit = true
			break
		}

		if !page.HasMore {
			break
		}
		searchAfter = page.NextSearchAfter
	}

	if anyEnriched {
		if err := o.executeEnrichPolicy(ctx); err != nil {
			return result, err
		}
		if _, err := helpers.UpdateByQuery(ctx, o.taskMon, targetIndex, query, o.cfg.PipelineName); err != nil {
			return result, fmt.Errorf("esingest/enrich: backfill %s: %w", targetIndex, err)
		}
	}

	return result, nil
}

// enrichPage runs one page of candidates through inference under a
// MaxConcurrency semaphore, accumulating the lookup upserts for the caller
// to bulk-write. stop reports whether the run-wide limit was hit mid-page.
func (o *Orchestrator) enrichPage(ctx context.Context, docs []json.RawMessage, hashes map[string]string, result *Result) ([]bulk.Doc, bool) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
		lookupDocs []bulk.Doc
	)
	sem := make(chan struct{}, o.cfg.MaxConcurrency)

	for _, raw := range docs {
		if result.Enriched+result.Failed >= o.cfg.MaxEnrichmentsPerRun {
			wg.Wait()
			return lookupDocs, true
		}

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			result.Failed++
			continue
		}

		matchValue, _ := doc[o.cfg.MatchField].(string)
		if matchValue == "" {
			continue
		}

		stale := staleFields(o.cfg.Fields, hashes, doc)
		if len(stale) == 0 {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(matchValue string, doc map[string]any, stale []FieldSpec) {
			defer wg.Done()
			defer func() { <-sem }()

			update, err := o.callInference(ctx, doc, stale, hashes)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				return
			}
			lookupDocs = append(lookupDocs, bulk.Doc{
					Op: bulk.Operation{
						Kind: bulk.OpUpdate,
						Index: o.cfg.LookupIndex,
						ID: sha256Hex(matchValue),
					},
					Body: update,
				})
			result.Enriched++
		}(matchValue, doc, stale)
	}

	wg.Wait()
	return lookupDocs, false
}

// callInference renders the prompt for each stale field, issues one
// _inference/completion call covering all of them, and parses the response
// into {ai_field: value, ai_field_ph: currentHash} pairs. The endpoint is
// assumed to return a flat JSON object keyed by field name.
func (o *Orchestrator) callInference(ctx context.Context, doc map[string]any, stale []FieldSpec, hashes map[string]string) (map[string]any, error) {
	parts := make([]string, 0, len(stale))
	for _, f := range stale {
		rendered, err := renderPrompt(f.Description, doc)
		if err != nil {
			return nil, err
		}
		rendered = strings.TrimSpace(rendered)
		if rendered == "" {
			continue
		}
		parts = append(parts, f.Name+": "+rendered)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("esingest/enrich: no stale field produced a non-empty prompt")
	}

	status, body, err := transport.Request(ctx, o.transport, http.MethodPost,
		"/_inference/completion/"+o.cfg.EndpointID, map[string]any{"input": strings.Join(parts, "\n")})
	if err != nil {
		return nil, fmt.Errorf("esingest/enrich: inference call: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return nil, fmt.Errorf("esingest/enrich: POST /_inference/completion/%s returned %d: %s", o.cfg.EndpointID, status, body)
	}

	var parsed map[string]string
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("esingest/enrich: decode inference response: %w", err)
	}

	update := make(map[string]any, len(stale)*2)
	for _, f := range stale {
		value, ok := parsed[f.Name]
		if !ok {
			continue
		}
		update[f.Name] = value
		update[phantomField(f.Name)] = hashes[f.Name]
	}
	if len(update) == 0 {
		return nil, fmt.Errorf("esingest/enrich: inference response had no recognized fields")
	}
	return update, nil
}

// bulkUpsertLookup writes the accumulated lookup updates via
// POST {lookupIndex}/_bulk using update/doc_as_upsert=true.
func (o *Orchestrator) bulkUpsertLookup(ctx context.Context, docs []bulk.Doc) error {
	body, release, err := o.encoder.Encode(docs)
	if err != nil {
		return fmt.Errorf("esingest/enrich: encode lookup upsert: %w", err)
	}
	defer release()

	status, respBody, err := transport.RequestRaw(ctx, o.transport, http.MethodPost, "/"+o.cfg.LookupIndex+"/_bulk", body, "application/x-ndjson")
	if err != nil {
		return fmt.Errorf("esingest/enrich: lookup bulk upsert: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/enrich: POST /%s/_bulk returned %d: %s", o.cfg.LookupIndex, status, respBody)
	}

	resp, err := bulk.DecodeResponse(respBody, len(docs))
	if err != nil {
		return fmt.Errorf("esingest/enrich: decode lookup bulk response: %w", err)
	}
	if resp.Errors {
		for _, item := range resp.Items {
			if item.Classify() != bulk.ItemOK {
				return fmt.Errorf("esingest/enrich: lookup upsert item %s failed: %v", item.ID, item.Error)
			}
		}
	}
	return nil
}
