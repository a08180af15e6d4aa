// Package client provides a Go client for a remote tenantrun instance's
// operator API.
//
// Usage:
//
//	c, err := client.New("https://scheduler.internal:8080",
//	    client.WithToken("tr_..."),
//	)
//
//	// Run a job now and inspect the per-tenant outcomes.
//	run, err := c.RunJob(ctx, "nightly-sync")
//	tenants, err := c.Tenants(ctx, run.ID.String())
//
// Read requests are retried on transport errors and 5xx responses when
// [WithRetry] is set. Triggering a run is never retried.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/tenantrun/backoff"
)

// ErrNotFound is matched by errors for 404 responses.
var ErrNotFound = errors.New("tenantrun/client: not found")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tenantrun/client: %d %s", e.StatusCode, e.Message)
}

// Is reports whether target is ErrNotFound and the response was a 404.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the /v1 routes of a tenantrun server.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger

	// Read retries.
	maxAttempts int
	backoff     backoff.Strategy
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tenantrun/client: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		base:        u,
		http:        &http.Client{Timeout: 5 * time.Minute},
		logger:      slog.Default(),
		maxAttempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// get issues an idempotent GET, retrying according to WithRetry.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.do(ctx, http.MethodGet, path, query, out)
		if err == nil || !retryable(err) || attempt == c.maxAttempts {
			return err
		}

		delay := c.backoff.Delay(attempt)
		c.logger.Debug("tenantrun client retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// do sends one request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("tenantrun/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tenantrun/client: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("tenantrun/client: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("tenantrun/client: decode %s: %w", path, err)
	}
	return nil
}

// errorMessage extracts the message from a JSON error body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
