// Package httpclient provides the net/http-backed engine.WebhookHTTPClient
// used outside of tests: one POST attempt per call, no retry loop of its own
// (retry and backoff are the engine's job, not the transport's).
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/webhook-engine/internal/engine"
)

const defaultTimeout = 5 * time.Second

// Client implements engine.WebhookHTTPClient over net/http.
type Client struct {
	http      *http.Client
	userAgent string
}

// New creates a Client with the given per-request timeout. A zero timeout
// falls back to defaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: "webhook-engine/1.0",
	}
}

// Post performs a single HTTP POST for the given dispatch request. A
// transport-level failure (DNS, connection refused, context deadline, ...)
// returns an error; any status code, including non-2xx, is a successful
// round trip represented as an HTTPResponse.
func (c *Client) Post(ctx context.Context, req engine.HTTPRequest) (engine.HTTPResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader([]byte(req.Body)))
	if err != nil {
		return engine.HTTPResponse{}, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/octet-stream")
	for _, h := range req.Headers {
		httpReq.Header.Set(h.Name, h.Value)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Webhook-Delivery-Id", uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return engine.HTTPResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	return engine.HTTPResponse{StatusCode: resp.StatusCode}, nil
}
