package api

// JobResponse describes a registered job.
type JobResponse struct {
	Name           string  `json:"name"`
	Schedule       string  `json:"schedule,omitempty"`
	Concurrency    string  `json:"concurrency"`
	MaxParallelism int     `json:"max_parallelism"`
	MaxAttempts    int     `json:"max_attempts"`
	LeaseSeconds   float64 `json:"lease_seconds"`
	// TenantRate is the effective tenant start rate, including engine
	// throttle configuration.
	TenantRate float64 `json:"tenant_rate,omitempty"`
}

// RunJobRequest triggers a job.
type RunJobRequest struct {
	Name string `json:"-" path:"name"`
}

// JobRequest addresses a job by name.
type JobRequest struct {
	Name string `json:"-" path:"name"`
}

// ListExecutionsRequest pages through a job's history.
type ListExecutionsRequest struct {
	Name   string `json:"-"      path:"name"`
	Limit  int    `json:"limit"  query:"limit"`
	Status string `json:"status" query:"status"`
}

// ExecutionRequest addresses an execution by ID.
type ExecutionRequest struct {
	ExecutionID string `json:"-" path:"executionId"`
}
