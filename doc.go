// Package tenantrun runs recurring jobs across many independent tenants.
//
// A job is triggered on a schedule, or directly, and every trigger becomes
// one Execution. The engine takes a lease-based lock for the job so at most
// one run is active across a fleet of processes, fetches the job's tenant
// list, and runs the job's handler once per tenant, sequentially or with
// bounded parallelism. Each tenant gets its own TenantExecution record and
// its own retry loop, so a failing tenant never aborts its siblings.
//
// # Quick Start
//
//	reg := job.NewRegistry()
//	_ = reg.Register(&job.Definition{
//	    Name:     "invoice-sweep",
//	    Schedule: "*/15 * * * *",
//	    Handler:  sweepInvoices,
//	})
//
//	eng, err := engine.New(pgStore,
//	    engine.WithRegistry(reg),
//	    engine.WithTenantProvider(tenant.Static("acme", "globex")),
//	)
//
// # Architecture
//
// Each subsystem defines its own store interface (lock.Store for leases,
// execution.Store for run history). A single backend implements both; see
// the store package for the composite interface and its implementations.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package tenantrun
