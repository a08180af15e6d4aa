package k8s

import (
	"log/slog"
	"time"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithLeasePrefix sets the prefix of Lease object names.
// Default: "tenantrun-".
func WithLeasePrefix(prefix string) Option {
	return func(p *Provider) { p.leasePrefix = prefix }
}

// WithAnnotationPrefix sets the prefix for lock-data annotations on Leases.
// Default: "tenantrun.xraph.com/".
func WithAnnotationPrefix(prefix string) Option {
	return func(p *Provider) { p.annotationPrefix = prefix }
}

// WithClock overrides the time source. Tests use it to expire leases.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}
