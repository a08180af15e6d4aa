package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/tenantrun/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry retries read requests up to maxAttempts times in total, with
// jittered exponential delays starting at baseDelay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		c.maxAttempts = maxAttempts
		c.backoff = backoff.WithJitter(backoff.NewExponential(baseDelay, 2, 30*time.Second), 0.2)
	}
}
