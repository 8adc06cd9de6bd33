// Package transport defines the wire boundary this module consumes: a
// single Perform(*http.Request) (*http.Response, error) operation, with no
// assumptions about retries, auth, or connection pooling baked into the
// rest of the pipeline. The concrete HTTP transport is an external
// collaborator; we specify it as the interface elastic-transport-go
// already exposes off of *elasticsearch.Client, so callers can hand us a
// real client's Transport field directly.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	elastictransport "github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v9"
)

// Interface is the transport contract this module assumes: build a
// request, perform it, get back a response. It is a direct alias of
// elastictransport.Interface so any *elasticsearch.Client's Transport field
// satisfies it without an adapter.
type Interface = elastictransport.Interface

// NewDefault builds a go-elasticsearch client for the given addresses and
// API key and returns its Transport, ready to be handed to the channel,
// bootstrap engine, orchestrator, and helpers packages.
func NewDefault(addresses []string, apiKey string) (Interface, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: addresses,
			APIKey: apiKey,
		})
	if err != nil {
		return nil, fmt.Errorf("esingest/transport: failed to create client: %w", err)
	}
	return client.Transport, nil
}

// Request is a thin convenience wrapper used by every component that needs
// to issue a single JSON call (bootstrap steps, helpers, enrich) without
// repeating request-construction boilerplate. It does not retry; of the
// callers in this module only channel.Channel retries, for the bulk pages
// it sends through RequestRaw.
func Request(ctx context.Context, t Interface, method, path string, body any) (status int, respBody []byte, err error) {
	var reader io.Reader
	if body != nil {
		encoded, merr := json.Marshal(body)
		if merr != nil {
			return 0, nil, fmt.Errorf("esingest/transport: marshal request body: %w", merr)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("esingest/transport: build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := t.Perform(req)
	if err != nil {
		return 0, nil, fmt.Errorf("esingest/transport: perform request: %w", err)
	}
	defer res.Body.Close()

	respBody, err = io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("esingest/transport: read response body: %w", err)
	}

	return res.StatusCode, respBody, nil
}

// RequestRaw issues a request whose body is already framed (e.g. NDJSON
// bulk payloads), where a json.Marshal of the body is not appropriate.
func RequestRaw(ctx context.Context, t Interface, method, path string, body []byte, contentType string) (status int, respBody []byte, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("esingest/transport: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := t.Perform(req)
	if err != nil {
		return 0, nil, fmt.Errorf("esingest/transport: perform request: %w", err)
	}
	defer res.Body.Close()

	respBody, err = io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("esingest/transport: read response body: %w", err)
	}

	return res.StatusCode, respBody, nil
}

// IsRetryableStatus classifies a response status: 429 and 503 are
// retryable; everything else in 4xx/5xx is fatal for the item or page
// that produced it.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// IsOKStatus reports whether status is in [200, 300), the terminal-ok
// range for one bulk response item.
func IsOKStatus(status int) bool {
	return status >= 200 && status < 300
}
