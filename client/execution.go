package client

import (
	"context"
	"net/url"

	"github.com/xraph/tenantrun/execution"
)

// Execution returns one execution by ID.
func (c *Client) Execution(ctx context.Context, executionID string) (*execution.Execution, error) {
	var out execution.Execution
	if err := c.get(ctx, "/v1/executions/"+url.PathEscape(executionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tenants returns the per-tenant records of an execution in creation order.
func (c *Client) Tenants(ctx context.Context, executionID string) ([]*execution.TenantExecution, error) {
	var out []*execution.TenantExecution
	if err := c.get(ctx, "/v1/executions/"+url.PathEscape(executionID)+"/tenants", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
