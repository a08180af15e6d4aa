package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/lock"
)

// AcquireLock inserts the lock row, or takes over a row whose lease has
// expired. Exactly one row affected means the caller holds the lock.
func (s *Store) AcquireLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	res, err := s.db.NewRaw(`
		INSERT INTO tenantrun_locks (job_name, holder_id, acquired_at, expires_at)
		VALUES (?, ?, NOW(), NOW() + (? * INTERVAL '1 millisecond'))
		ON CONFLICT (job_name) DO UPDATE SET
			holder_id   = EXCLUDED.holder_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at  = EXCLUDED.expires_at
		WHERE tenantrun_locks.expires_at <= NOW()`,
		jobName, holderID, lease.Milliseconds(),
	).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tenantrun/bun: acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tenantrun/bun: acquire lock: %w", err)
	}
	return n == 1, nil
}

// RenewLock extends the lease if holderID still holds it.
func (s *Store) RenewLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*lockModel)(nil)).
		Set("expires_at = NOW() + (? * INTERVAL '1 millisecond')", lease.Milliseconds()).
		Where("job_name = ?", jobName).
		Where("holder_id = ?", holderID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tenantrun/bun: renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tenantrun/bun: renew lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseLock deletes the lock if holderID holds it.
func (s *Store) ReleaseLock(ctx context.Context, jobName, holderID string) error {
	_, err := s.db.NewDelete().
		Model((*lockModel)(nil)).
		Where("job_name = ?", jobName).
		Where("holder_id = ?", holderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tenantrun/bun: release lock: %w", err)
	}
	return nil
}

// GetLock returns the live lock for jobName.
func (s *Store) GetLock(ctx context.Context, jobName string) (*lock.Lock, error) {
	m := new(lockModel)
	err := s.db.NewSelect().Model(m).
		Where("job_name = ?", jobName).
		Where("expires_at > NOW()").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tenantrun.ErrLockNotFound
		}
		return nil, fmt.Errorf("tenantrun/bun: get lock: %w", err)
	}
	return fromLockModel(m), nil
}
