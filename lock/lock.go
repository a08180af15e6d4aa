// Package lock grants lease-based exclusive ownership of a job's run slot.
//
// A lock is keyed by job name and names the holder (one per run) and the
// instant the lease ends. Acquire succeeds when no lock exists or the
// existing lease has expired, so a crashed holder never blocks a job for
// longer than one lease. Release only removes a lock its caller still
// holds, which keeps a slow run from deleting a lock another run has
// already reclaimed.
package lock

import (
	"context"
	"time"
)

// Lock is the current exclusive holder of a job's run slot.
type Lock struct {
	JobName    string    `json:"job_name"    msgpack:"job_name"`
	HolderID   string    `json:"holder_id"   msgpack:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at" msgpack:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"  msgpack:"expires_at"`
}

// Expired reports whether the lease has passed at now.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Store is the persistence contract for job locks. Every method must be
// a single atomic operation against the backing store.
type Store interface {
	// AcquireLock creates the lock for jobName, or takes over an expired
	// one, with expires_at = now + lease. It returns false when another
	// holder's lease is still live. Of several concurrent callers exactly
	// one observes true.
	AcquireLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error)

	// RenewLock pushes expires_at to now + lease if holderID still holds
	// the lock. It returns false, without error, when the lock is gone or
	// held by someone else.
	RenewLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error)

	// ReleaseLock deletes the lock if holderID holds it. Releasing a lock
	// that is absent or held by another holder is not an error.
	ReleaseLock(ctx context.Context, jobName, holderID string) error

	// GetLock returns the live lock for jobName, or
	// tenantrun.ErrLockNotFound when there is none.
	GetLock(ctx context.Context, jobName string) (*Lock, error)
}
