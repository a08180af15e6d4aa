// Package webhook provides a job handler that calls an HTTP endpoint once
// per tenant. The response status decides the outcome: 2xx succeeds, and
// every other status becomes a failure tagged with a kind the retry
// classifier can act on.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/retry"
)

// Failure kinds reported by the handler.
const (
	// KindClientError is a 4xx response other than 408 and 429.
	KindClientError retry.Kind = "http_client_error"
	// KindThrottled is a 408 or 429 response.
	KindThrottled retry.Kind = "http_throttled"
	// KindServerError is a 5xx response.
	KindServerError retry.Kind = "http_server_error"
	// KindTransport is a connection-level failure.
	KindTransport retry.Kind = "http_transport"
)

// Rules maps the handler's failure kinds to retry classes: client errors
// are permanent, everything else is retried.
func Rules() map[retry.Kind]retry.Class {
	return map[retry.Kind]retry.Class{
		KindClientError: retry.NonRetryable,
		KindThrottled:   retry.Retryable,
		KindServerError: retry.Retryable,
		KindTransport:   retry.Retryable,
	}
}

// Payload is the JSON body posted for each tenant.
type Payload struct {
	Job      string    `json:"job"`
	TenantID string    `json:"tenant_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithClient sets the HTTP client. The default has a 30 second timeout.
func WithClient(c *http.Client) Option {
	return func(h *Handler) { h.client = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(h *Handler) { h.header.Add(key, value) }
}

// Handler posts a Payload per tenant to a URL.
type Handler struct {
	jobName string
	url     string
	client  *http.Client
	header  http.Header
	now     func() time.Time
}

// New creates a Handler for jobName posting to url. Every "{tenant}" in
// url is replaced with the tenant ID.
func New(jobName, url string, opts ...Option) *Handler {
	h := &Handler{
		jobName: jobName,
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		header:  make(http.Header),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Func returns the handler as a job.HandlerFunc.
func (h *Handler) Func() job.HandlerFunc { return h.Call }

// Call posts the payload for tenantID.
func (h *Handler) Call(ctx context.Context, tenantID string) error {
	body, err := json.Marshal(Payload{Job: h.jobName, TenantID: tenantID, SentAt: h.now()})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	target := strings.ReplaceAll(h.url, "{tenant}", tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return retry.Wrap(KindClientError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Wrap(retry.KindTimeout, err)
		}
		return retry.Wrap(KindTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s returned %d", target, resp.StatusCode)
	if s := strings.TrimSpace(string(snippet)); s != "" {
		msg += ": " + s
	}
	return retry.Failure(KindOf(resp.StatusCode), msg)
}

// KindOf returns the failure kind for a non-2xx status code.
func KindOf(status int) retry.Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindThrottled
	case status >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}
