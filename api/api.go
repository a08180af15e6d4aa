// Package api exposes the tenantrun operator surface over HTTP using
// Forge routes with OpenAPI metadata.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tenantrun/cron"
	"github.com/xraph/tenantrun/engine"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/lock"
)

// API wires all Forge-style HTTP handlers together for a tenantrun engine.
type API struct {
	eng    *engine.Engine
	router forge.Router
}

// New creates an API from an Engine.
func New(eng *engine.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all tenantrun API routes into the given Forge
// router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerExecutionRoutes(router)
	a.registerScheduleRoutes(router)
}

// registerJobRoutes registers job listing, triggering and per-job queries.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns every registered job with its policy."),
		forge.WithOperationID("listJobs"),
		forge.WithResponseSchema(http.StatusOK, "Job list", []JobResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:name/run", a.runJob,
		forge.WithSummary("Run job"),
		forge.WithDescription("Runs the job now across all active tenants and returns the recorded execution. A run that finds the job already running is recorded as skipped."),
		forge.WithOperationID("runJob"),
		forge.WithResponseSchema(http.StatusOK, "Execution", &execution.Execution{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:name/latest", a.latestExecution,
		forge.WithSummary("Latest execution"),
		forge.WithDescription("Returns the most recent execution of a job."),
		forge.WithOperationID("latestExecution"),
		forge.WithResponseSchema(http.StatusOK, "Execution", &execution.Execution{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:name/executions", a.listExecutions,
		forge.WithSummary("Execution history"),
		forge.WithDescription("Returns executions of a job, most recent first."),
		forge.WithOperationID("listExecutions"),
		forge.WithRequestSchema(ListExecutionsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Executions", []*execution.Execution{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:name/lock", a.getLock,
		forge.WithSummary("Job lock"),
		forge.WithDescription("Returns the live lock of a job, or 404 when it is not running anywhere."),
		forge.WithOperationID("getLock"),
		forge.WithResponseSchema(http.StatusOK, "Lock", &lock.Lock{}),
		forge.WithErrorResponses(),
	)
}

// registerExecutionRoutes registers execution detail routes.
func (a *API) registerExecutionRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("executions"))

	_ = g.GET("/executions/:executionId", a.getExecution,
		forge.WithSummary("Get execution"),
		forge.WithDescription("Returns one execution."),
		forge.WithOperationID("getExecution"),
		forge.WithResponseSchema(http.StatusOK, "Execution", &execution.Execution{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/executions/:executionId/tenants", a.listTenants,
		forge.WithSummary("Tenant outcomes"),
		forge.WithDescription("Returns every tenant outcome of an execution in start order."),
		forge.WithOperationID("listTenantExecutions"),
		forge.WithResponseSchema(http.StatusOK, "Tenant executions", []*execution.TenantExecution{}),
		forge.WithErrorResponses(),
	)
}

// registerScheduleRoutes registers cron trigger routes.
func (a *API) registerScheduleRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("schedule"))

	_ = g.GET("/schedule", a.listSchedule,
		forge.WithSummary("Schedule"),
		forge.WithDescription("Returns the next and last fire times of scheduled jobs in this process."),
		forge.WithOperationID("listSchedule"),
		forge.WithResponseSchema(http.StatusOK, "Schedule entries", []cron.Entry{}),
		forge.WithErrorResponses(),
	)
}
