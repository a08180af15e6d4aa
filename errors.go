package tenantrun

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("tenantrun: no store configured")
	ErrNoTenantProvider = errors.New("tenantrun: no tenant provider configured")
	ErrMigrationFailed  = errors.New("tenantrun: migration failed")

	// Not found errors.
	ErrJobNotFound       = errors.New("tenantrun: job not found")
	ErrExecutionNotFound = errors.New("tenantrun: execution not found")
	ErrLockNotFound      = errors.New("tenantrun: lock not found")

	// Registry errors.
	ErrDuplicateJob = errors.New("tenantrun: duplicate job")
	ErrInvalidJob   = errors.New("tenantrun: invalid job definition")

	// Run errors.
	//
	// ErrInfrastructure wraps failures of the tenant provider or of the
	// backing store. A run that returns it has been recorded as FAILED.
	ErrInfrastructure = errors.New("tenantrun: infrastructure failure")
	ErrEngineStopped  = errors.New("tenantrun: engine stopped")

	// ErrExecutionReclaimed means a later lock holder closed the run
	// while it was still going. The stored outcome is kept.
	ErrExecutionReclaimed = errors.New("tenantrun: execution reclaimed by another holder")
)
