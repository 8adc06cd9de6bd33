package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greenearth/esingest/transport"
	"github.com/greenearth/esingest/typecontext"
)

// Provisioning decides whether the current target is reusable at
// bootstrap time.
type Provisioning interface {
	// Resolve returns the concrete index name to write to. reused reports
	// whether an existing index was adopted (HashBasedReuse) rather than a
	// new one created (AlwaysCreate or first run).
	Resolve(ctx context.Context, t transport.Interface, wildcard, writeTarget, channelHash string, now time.Time, datePattern string) (concreteIndex string, reused bool, err error)
}

// AlwaysCreate resolves a fresh name on every bootstrap without looking
// for an existing index: "{writeTarget}-{date}" when datePattern is set,
// else writeTarget. It makes no remote call and applies the same rule to
// every target kind.
type AlwaysCreate struct{}

func (AlwaysCreate) Resolve(_ context.Context, _ transport.Interface, _, writeTarget, _ string, now time.Time, datePattern string) (string, bool, error) {
	if datePattern == "" {
		return writeTarget, false, nil
	}
	return writeTarget + "-" + now.UTC().Format(datePattern), false, nil
}

// HashBasedReuse queries _resolve/index/{wildcard}; if an existing index's
// _meta.hash equals channelHash, that index name is reused and the date
// suffix is not advanced.
type HashBasedReuse struct{}

type resolveResponse struct {
	Indices []struct {
		Name string `json:"name"`
	} `json:"indices"`
}

func (HashBasedReuse) Resolve(ctx context.Context, t transport.Interface, wildcard, writeTarget, channelHash string, now time.Time, datePattern string) (string, bool, error) {
	status, body, err := transport.Request(ctx, t, http.MethodGet, "/_resolve/index/"+wildcard, nil)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusOK {
		var resolved resolveResponse
		if err := json.Unmarshal(body, &resolved); err != nil {
			return "", false, fmt.Errorf("esingest/strategy: decode _resolve/index response: %w", err)
		}
		for _, idx := range resolved.Indices {
			hash, found, err := indexChannelHash(ctx, t, idx.Name)
			if err != nil {
				return "", false, err
			}
			if found && hash == channelHash {
				return idx.Name, true, nil
			}
		}
	} else if status != http.StatusNotFound {
		return "", false, fmt.Errorf("esingest/strategy: GET _resolve/index/%s returned %d", wildcard, status)
	}

	if datePattern == "" {
		return writeTarget, false, nil
	}
	return writeTarget + "-" + now.UTC().Format(datePattern), false, nil
}

// indexChannelHash fetches one index's mapping and extracts its
// _meta.hash, mirroring bootstrap's existingHash convention.
func indexChannelHash(ctx context.Context, t transport.Interface, indexName string) (hash string, found bool, err error) {
	status, body, err := transport.Request(ctx, t, http.MethodGet, "/"+indexName+"/_mapping", nil)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if !transport.IsOKStatus(status) {
		return "", false, fmt.Errorf("esingest/strategy: GET /%s/_mapping returned %d", indexName, status)
	}

	var resp map[string]struct {
		Mappings struct {
			Meta map[string]any `json:"_meta"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("esingest/strategy: decode mapping for %s: %w", indexName, err)
	}
	for _, v := range resp {
		if h, ok := v.Mappings.Meta["hash"].(string); ok && h != "" {
			return h, true, nil
		}
	}
	return "", false, nil
}

// wildcardFor renders tc's wildcard pattern. It is unexported and has no
// caller in this module.
func wildcardFor[D any](tc *typecontext.TypeContext[D]) string {
	return tc.WildcardPattern()
}
