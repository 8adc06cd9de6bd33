package bulk

import (
	"encoding/json"
	"fmt"
)

// ItemStatus classifies one bulk response item into the retry taxonomy:
// ok, retryable, or fatal.
type ItemStatus int

const (
	ItemOK ItemStatus = iota
	ItemRetryable
	ItemFatal
)

// ResponseItem is one entry of the bulk response's "items" array, reduced
// to what the channel's retry classifier needs.
type ResponseItem struct {
	Action string
	Index string
	ID string
	Status int
	Error *ItemError
}

// ItemError carries the Elasticsearch-reported error for a failed item.
type ItemError struct {
	Type string `json:"type"`
	Reason string `json:"reason"`
}

// Classify maps a raw status code to the retry taxonomy: 200<=status<300
// is ItemOK; 429 or 503 is ItemRetryable; everything else is ItemFatal.
func (it ResponseItem) Classify() ItemStatus {
	switch {
		case it.Status >= 200 && it.Status < 300:
		return ItemOK
		case it.Status == 429 || it.Status == 503:
		return ItemRetryable
		default:
		return ItemFatal
	}
}

// rawItem mirrors the wire shape of one bulk response item:
// {"<action>": {"status": 201, "_index": "...", "_id": "...", "error": {...}}}.
type rawItem map[string]struct {
	Status int `json:"status"`
	Index string `json:"_index"`
	ID string `json:"_id"`
	Error *ItemError `json:"error"`
}

// rawResponse mirrors {took, errors, items: [...]}, the shape DecodeResponse parses.
type rawResponse struct {
	Took int `json:"took"`
	Errors bool `json:"errors"`
	Items []rawItem `json:"items"`
}

// Response is the decoded form of a bulk response, with Items positionally
// aligned 1:1 with the input page.
type Response struct {
	Took int
	Errors bool
	Items []ResponseItem
}

// DecodeResponse parses raw bulk response bytes and validates the
// positional length invariant against the input page length.
func DecodeResponse(body []byte, expectedLen int) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("esingest/bulk: decode response: %w", err)
	}

	if len(raw.Items) != expectedLen {
		return nil, fmt.Errorf(
			"esingest/bulk: response items length %d does not match input page length %d",
			len(raw.Items), expectedLen,
		)
	}

	items := make([]ResponseItem, 0, len(raw.Items))
	for i, ri := range raw.Items {
		if len(ri) != 1 {
			return nil, fmt.Errorf("esingest/bulk: response item %d has %d actions, want 1", i, len(ri))
		}
		for action, v := range ri {
			items = append(items, ResponseItem{
					Action: action,
					Index: v.Index,
					ID: v.ID,
					Status: v.Status,
					Error: v.Error,
				})
		}
	}

	return &Response{Took: raw.Took, Errors: raw.Errors, Items: items}, nil
}
