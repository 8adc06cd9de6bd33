package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/greenearth/esingest/transport"
)

// RolloverConditions mirrors the optional arguments to POST
// /{alias}/_rolloverC.5. Zero value fields are omitted from
// the request body.
type RolloverConditions struct {
	MaxAge string
	MaxSize string
	MaxDocs int64
}

func (c RolloverConditions) body() map[string]any {
	conditions := map[string]any{}
	if c.MaxAge != "" {
		conditions["max_age"] = c.MaxAge
	}
	if c.MaxSize != "" {
		conditions["max_size"] = c.MaxSize
	}
	if c.MaxDocs > 0 {
		conditions["max_docs"] = c.MaxDocs
	}
	return map[string]any{"conditions": conditions}
}

// Rollover exposes the optional rollover role.
type Rollover interface {
	Rollover(ctx context.Context, t transport.Interface, alias string, conditions RolloverConditions) (rolledOver bool, newIndex string, err error)
}

// AliasRollover calls POST /{alias}/_rollover with the supplied
// conditions.
type AliasRollover struct{}

type rolloverResponse struct {
	RolledOver bool `json:"rolled_over"`
	NewIndex string `json:"new_index"`
	OldIndex string `json:"old_index"`
}

func (AliasRollover) Rollover(ctx context.Context, t transport.Interface, alias string, conditions RolloverConditions) (bool, string, error) {
	status, body, err := transport.Request(ctx, t, http.MethodPost, "/"+alias+"/_rollover", conditions.body())
	if err != nil {
		return false, "", fmt.Errorf("esingest/strategy: rollover %s: %w", alias, err)
	}
	if !transport.IsOKStatus(status) {
		return false, "", fmt.Errorf("esingest/strategy: POST /%s/_rollover returned %d: %s", alias, status, body)
	}

	var resp rolloverResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, "", fmt.Errorf("esingest/strategy: decode rollover response: %w", err)
	}
	return resp.RolledOver, resp.NewIndex, nil
}
