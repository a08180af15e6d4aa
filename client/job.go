package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/tenantrun/api"
	"github.com/xraph/tenantrun/cron"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/lock"
)

// ListJobs returns every job registered on the server.
func (c *Client) ListJobs(ctx context.Context) ([]api.JobResponse, error) {
	var out []api.JobResponse
	if err := c.get(ctx, "/v1/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunJob runs the job now and returns the recorded execution. A run that
// found the job already running comes back with status skipped.
func (c *Client) RunJob(ctx context.Context, name string) (*execution.Execution, error) {
	var out execution.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(name)+"/run", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Latest returns the job's most recent execution.
func (c *Client) Latest(ctx context.Context, name string) (*execution.Execution, error) {
	var out execution.Execution
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(name)+"/latest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryOption narrows a History request.
type HistoryOption func(url.Values)

// WithLimit caps the number of executions returned.
func WithLimit(n int) HistoryOption {
	return func(q url.Values) { q.Set("limit", strconv.Itoa(n)) }
}

// WithStatus returns only executions with the given status.
func WithStatus(s execution.Status) HistoryOption {
	return func(q url.Values) { q.Set("status", string(s)) }
}

// History returns the job's executions, newest first.
func (c *Client) History(ctx context.Context, name string, opts ...HistoryOption) ([]*execution.Execution, error) {
	q := url.Values{}
	for _, opt := range opts {
		opt(q)
	}
	var out []*execution.Execution
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(name)+"/executions", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lock returns the current lease on the job. It matches ErrNotFound when
// no node holds the job.
func (c *Client) Lock(ctx context.Context, name string) (*lock.Lock, error) {
	var out lock.Lock
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(name)+"/lock", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Schedule returns the server's cron entries.
func (c *Client) Schedule(ctx context.Context) ([]cron.Entry, error) {
	var out []cron.Entry
	if err := c.get(ctx, "/v1/schedule", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
