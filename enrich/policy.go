package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/greenearth/esingest/transport"
)

// InitializeAsync ensures the lookup index, enrich policy, and pipeline
// exist and are current.
func (o *Orchestrator) InitializeAsync(ctx context.Context) error {
	if err := o.ensureLookupIndex(ctx); err != nil {
		return err
	}
	if err := o.ensureEnrichPolicy(ctx); err != nil {
		return err
	}
	if err := o.executeEnrichPolicy(ctx); err != nil {
		return err
	}
	return o.ensurePipeline(ctx)
}

func (o *Orchestrator) ensureLookupIndex(ctx context.Context) error {
	status, _, err := transport.Request(ctx, o.transport, http.MethodGet, "/"+o.cfg.LookupIndex, nil)
	if err != nil {
		return fmt.Errorf("esingest/enrich: check lookup index: %w", err)
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{}
	if o.cfg.LookupMapping != nil {
		body["mappings"] = o.cfg.LookupMapping
	}
	status, respBody, err := transport.Request(ctx, o.transport, http.MethodPut, "/"+o.cfg.LookupIndex, body)
	if err != nil {
		return fmt.Errorf("esingest/enrich: create lookup index: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/enrich: PUT /%s returned %d: %s", o.cfg.LookupIndex, status, respBody)
	}
	return nil
}

type enrichPolicyListResponse struct {
	Policies []struct {
		Config struct {
			Match struct {
				EnrichFields []string `json:"enrich_fields"`
			} `json:"match"`
		} `json:"config"`
	} `json:"policies"`
}

// wantedEnrichFields is {ai_field_i} union {ai_field_i_ph}. The enrich
// policy is replaced when its enrich_fields set no longer equals this.
func (o *Orchestrator) wantedEnrichFields() []string {
	fields := make([]string, 0, len(o.cfg.Fields)*2)
	for _, f := range o.cfg.Fields {
		fields = append(fields, f.Name, phantomField(f.Name))
	}
	return fields
}

func (o *Orchestrator) ensureEnrichPolicy(ctx context.Context) error {
	wanted := o.wantedEnrichFields()

	status, body, err := transport.Request(ctx, o.transport, http.MethodGet, "/_enrich/policy/"+o.cfg.PolicyName, nil)
	if err != nil {
		return fmt.Errorf("esingest/enrich: check enrich policy: %w", err)
	}

	if status == http.StatusOK {
		var existing enrichPolicyListResponse
		if err := json.Unmarshal(body, &existing); err != nil {
			return fmt.Errorf("esingest/enrich: decode enrich policy: %w", err)
		}
		if len(existing.Policies) == 1 && stringSetEqual(existing.Policies[0].Config.Match.EnrichFields, wanted) {
			return nil
		}
		if _, _, err := transport.Request(ctx, o.transport, http.MethodDelete, "/_enrich/policy/"+o.cfg.PolicyName, nil); err != nil {
			return fmt.Errorf("esingest/enrich: delete stale enrich policy: %w", err)
		}
	}

	createBody := map[string]any{
		"match": map[string]any{
			"indices": o.cfg.LookupIndex,
			"match_field": o.cfg.MatchField,
			"enrich_fields": wanted,
		},
	}
	status, respBody, err := transport.Request(ctx, o.transport, http.MethodPut, "/_enrich/policy/"+o.cfg.PolicyName, createBody)
	if err != nil {
		return fmt.Errorf("esingest/enrich: create enrich policy: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/enrich: PUT /_enrich/policy/%s returned %d: %s", o.cfg.PolicyName, status, respBody)
	}
	return nil
}

func (o *Orchestrator) executeEnrichPolicy(ctx context.Context) error {
	status, body, err := transport.Request(ctx, o.transport, http.MethodPut, "/_enrich/policy/"+o.cfg.PolicyName+"/_execute", nil)
	if err != nil {
		return fmt.Errorf("esingest/enrich: execute enrich policy: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/enrich: PUT /_enrich/policy/%s/_execute returned %d: %s", o.cfg.PolicyName, status, body)
	}
	return nil
}

func (o *Orchestrator) ensurePipeline(ctx context.Context) error {
	marker := fmt.Sprintf("[fields_hash:%s]", fieldsHash(o.cfg.Fields))

	status, body, err := transport.Request(ctx, o.transport, http.MethodGet, "/_ingest/pipeline/"+o.cfg.PipelineName, nil)
	if err != nil {
		return fmt.Errorf("esingest/enrich: check pipeline: %w", err)
	}
	if status == http.StatusOK {
		var existing map[string]struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal(body, &existing); err == nil {
			if p, ok := existing[o.cfg.PipelineName]; ok && strings.Contains(p.Description, marker) {
				return nil
			}
		}
	}

	pipelineBody := map[string]any{
		"description": "esingest lookup enrichment " + marker,
		"processors": []map[string]any{
			{
				"enrich": map[string]any{
					"policy_name": o.cfg.PolicyName,
					"field": o.cfg.MatchField,
					"target_field": "_enrich_lookup",
				},
			},
		},
	}
	status, respBody, err := transport.Request(ctx, o.transport, http.MethodPut, "/_ingest/pipeline/"+o.cfg.PipelineName, pipelineBody)
	if err != nil {
		return fmt.Errorf("esingest/enrich: create pipeline: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/enrich: PUT /_ingest/pipeline/%s returned %d: %s", o.cfg.PipelineName, status, respBody)
	}
	return nil
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
