package orchestrator

import (
	"encoding/json"
	"sort"
)

type resolveIndexResponse struct {
	Indices []struct {
		Name string `json:"name"`
	} `json:"indices"`
}

// resolveIndexNames extracts index names from a GET _resolve/index/{wildcard}
// response body; malformed bodies yield an empty slice rather than an
// error since cleanup is best-effort.
func resolveIndexNames(body []byte) []string {
	var resp resolveIndexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	names := make([]string, 0, len(resp.Indices))
	for _, idx := range resp.Indices {
		names = append(names, idx.Name)
	}
	return names
}

// selectSuperseded picks the indices to delete: every index matching the
// wildcard except currentIndex and the retainedCount most-recent (by name,
// which sorts chronologically for the date-pattern suffixes this module
// renders).
func selectSuperseded(names []string, currentIndex string, retainedCount int) []string {
	candidates := make([]string, 0, len(names))
	for _, n := range names {
		if n != currentIndex {
			candidates = append(candidates, n)
		}
	}
	sort.Strings(candidates)

	if len(candidates) <= retainedCount {
		return nil
	}
	return candidates[:len(candidates)-retainedCount]
}
