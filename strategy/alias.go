package strategy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/greenearth/esingest/transport"
)

// Alias performs the post-drain alias assignment. It may
// only be invoked after the channel has drained.
type Alias interface {
	Apply(ctx context.Context, t transport.Interface, concreteIndex string) error
}

// NoAlias is a no-op, for targets that are addressed directly rather than
// through an alias (e.g. data streams).
type NoAlias struct{}

func (NoAlias) Apply(context.Context, transport.Interface, string) error { return nil }

// LatestAndSearch points "{base}-latest" and ReadAlias at the current
// concrete index atomically via a single /_aliases call that adds the new
// assignment and removes the prior ones for the same alias.
type LatestAndSearch struct {
	WriteTarget string
	ReadAlias string
}

func (a *LatestAndSearch) Apply(ctx context.Context, t transport.Interface, concreteIndex string) error {
	latestAlias := a.WriteTarget + "-latest"

	actions := []map[string]any{
		{"remove": map[string]any{"index": a.WriteTarget + "-*", "alias": latestAlias, "must_exist": false}},
		{"add": map[string]any{"index": concreteIndex, "alias": latestAlias}},
	}
	if a.ReadAlias != "" {
		actions = append(actions,
			map[string]any{"remove": map[string]any{"index": a.WriteTarget + "-*", "alias": a.ReadAlias, "must_exist": false}},
			map[string]any{"add": map[string]any{"index": concreteIndex, "alias": a.ReadAlias}},
		)
	}

	body := map[string]any{"actions": actions}
	status, respBody, err := transport.Request(ctx, t, http.MethodPost, "/_aliases", body)
	if err != nil {
		return fmt.Errorf("esingest/strategy: apply aliases: %w", err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/strategy: POST /_aliases returned %d: %s", status, respBody)
	}
	return nil
}
