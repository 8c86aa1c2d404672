// Package upstream fetches JSON documents from third-party HTTP APIs.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gemprice/internal/resilience"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: bad status code: %d", e.URL, e.Code)
}

type Client struct {
	client     *http.Client
	attempts   int
	retryDelay time.Duration
}

// NewClient returns a client whose requests are bounded by timeout and
// retried retries extra times.
func NewClient(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		attempts:   retries + 1,
		retryDelay: 200 * time.Millisecond,
	}
}

// FetchJSON GETs url and decodes the body into target.
func (c *Client) FetchJSON(ctx context.Context, url string, target any) error {
	return resilience.Retry(ctx, c.attempts, c.retryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{URL: url, Code: resp.StatusCode}
		}

		return json.NewDecoder(resp.Body).Decode(target)
	})
}
