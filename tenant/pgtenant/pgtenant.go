// Package pgtenant lists active tenants from a PostgreSQL table.
//
// The default query reads an "id" column from a "tenants" table filtered
// by an "active" boolean. Deployments with a different layout supply
// their own query; it may reference the job name as @job:
//
//	p := pgtenant.New(pool, pgtenant.WithQuery(
//	    `SELECT tenant_id FROM subscriptions WHERE feature = @job AND NOT paused ORDER BY tenant_id`))
package pgtenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/tenantrun/tenant"
)

// DefaultQuery is used when no query option is given.
const DefaultQuery = `SELECT id FROM tenants WHERE active ORDER BY id`

// Compile-time check.
var _ tenant.Provider = (*Provider)(nil)

// Querier is the subset of *pgxpool.Pool and *pgx.Conn the provider uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Provider implements tenant.Provider with a SQL query.
type Provider struct {
	db     Querier
	query  string
	logger *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithQuery replaces DefaultQuery. The query must return one text column.
func WithQuery(query string) Option {
	return func(p *Provider) { p.query = query }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New returns a Provider reading from db.
func New(db Querier, opts ...Option) *Provider {
	p := &Provider{
		db:     db,
		query:  DefaultQuery,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ListActiveTenantIDs runs the query with the job name bound to @job.
func (p *Provider) ListActiveTenantIDs(ctx context.Context, jobName string) ([]string, error) {
	rows, err := p.db.Query(ctx, p.query, pgx.NamedArgs{"job": jobName})
	if err != nil {
		return nil, fmt.Errorf("pgtenant: query tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgtenant: scan tenants: %w", err)
	}
	p.logger.Debug("listed tenants", slog.String("job", jobName), slog.Int("count", len(ids)))
	return ids, nil
}

// EnsureSchema creates the default tenants table if it does not exist.
// It is only meaningful with DefaultQuery.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id     TEXT PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`)
	if err != nil {
		return fmt.Errorf("pgtenant: ensure schema: %w", err)
	}
	return nil
}
