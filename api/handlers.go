package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/cron"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/lock"
)

func (a *API) listJobs(ctx forge.Context) error {
	reg := a.eng.Registry()
	names := reg.Names()
	out := make([]JobResponse, 0, len(names))
	for _, name := range names {
		def, ok := reg.Get(name)
		if !ok {
			continue
		}
		out = append(out, JobResponse{
			Name:           def.Name,
			Schedule:       def.Schedule,
			Concurrency:    def.Opts.Concurrency.String(),
			MaxParallelism: def.Opts.MaxParallelism,
			MaxAttempts:    def.Opts.Retry.MaxAttempts,
			LeaseSeconds:   def.Opts.LeaseDuration.Seconds(),
			TenantRate:     a.eng.Throttle().Rate(def.Name),
		})
	}
	return ctx.JSON(http.StatusOK, out)
}

func (a *API) runJob(ctx forge.Context, _ *RunJobRequest) (*execution.Execution, error) {
	e, err := a.eng.Run(ctx.Context(), ctx.Param("name"))
	if err != nil {
		// An infrastructure failure or a reclaimed run still produced a
		// FAILED execution.
		if e != nil && (errors.Is(err, tenantrun.ErrInfrastructure) || errors.Is(err, tenantrun.ErrExecutionReclaimed)) {
			return e, ctx.JSON(http.StatusOK, e)
		}
		return nil, mapError(err)
	}
	return e, ctx.JSON(http.StatusOK, e)
}

func (a *API) latestExecution(ctx forge.Context, _ *JobRequest) (*execution.Execution, error) {
	e, err := a.eng.Latest(ctx.Context(), ctx.Param("name"))
	if err != nil {
		return nil, mapError(err)
	}
	return e, ctx.JSON(http.StatusOK, e)
}

func (a *API) listExecutions(ctx forge.Context, req *ListExecutionsRequest) ([]*execution.Execution, error) {
	hist, err := a.eng.History(ctx.Context(), ctx.Param("name"), req.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	if req.Status != "" {
		filtered := hist[:0]
		for _, e := range hist {
			if string(e.Status) == req.Status {
				filtered = append(filtered, e)
			}
		}
		hist = filtered
	}
	return hist, ctx.JSON(http.StatusOK, hist)
}

func (a *API) getLock(ctx forge.Context, _ *JobRequest) (*lock.Lock, error) {
	l, err := a.eng.Lock(ctx.Context(), ctx.Param("name"))
	if err != nil {
		return nil, mapError(err)
	}
	return l, ctx.JSON(http.StatusOK, l)
}

func (a *API) getExecution(ctx forge.Context, _ *ExecutionRequest) (*execution.Execution, error) {
	execID, err := id.ParseExecutionID(ctx.Param("executionId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid execution ID: %v", err))
	}
	e, err := a.eng.Execution(ctx.Context(), execID)
	if err != nil {
		return nil, mapError(err)
	}
	return e, ctx.JSON(http.StatusOK, e)
}

func (a *API) listTenants(ctx forge.Context, _ *ExecutionRequest) ([]*execution.TenantExecution, error) {
	execID, err := id.ParseExecutionID(ctx.Param("executionId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid execution ID: %v", err))
	}
	if _, err := a.eng.Execution(ctx.Context(), execID); err != nil {
		return nil, mapError(err)
	}
	tenants, err := a.eng.Tenants(ctx.Context(), execID)
	if err != nil {
		return nil, mapError(err)
	}
	return tenants, ctx.JSON(http.StatusOK, tenants)
}

func (a *API) listSchedule(ctx forge.Context) error {
	entries := a.eng.Schedule()
	if entries == nil {
		entries = []cron.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// mapError converts tenantrun sentinel errors to forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isNotFound(err):
		return forge.NotFound(err.Error())
	case errors.Is(err, tenantrun.ErrEngineStopped):
		return forge.InternalError(err)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, tenantrun.ErrJobNotFound) ||
		errors.Is(err, tenantrun.ErrExecutionNotFound) ||
		errors.Is(err, tenantrun.ErrLockNotFound)
}
