package postgres

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
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tenantrun_locks (job_name, holder_id, acquired_at, expires_at)
		VALUES ($1, $2, NOW(), NOW() + ($3 * INTERVAL '1 millisecond'))
		ON CONFLICT (job_name) DO UPDATE SET
			holder_id   = EXCLUDED.holder_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at  = EXCLUDED.expires_at
		WHERE tenantrun_locks.expires_at <= NOW()`,
		jobName, holderID, millis(lease),
	)
	if err != nil {
		return false, fmt.Errorf("tenantrun/postgres: acquire lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLock extends the lease if holderID still holds it.
func (s *Store) RenewLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenantrun_locks
		SET expires_at = NOW() + ($3 * INTERVAL '1 millisecond')
		WHERE job_name = $1 AND holder_id = $2`,
		jobName, holderID, millis(lease),
	)
	if err != nil {
		return false, fmt.Errorf("tenantrun/postgres: renew lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock deletes the lock if holderID holds it.
func (s *Store) ReleaseLock(ctx context.Context, jobName, holderID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tenantrun_locks WHERE job_name = $1 AND holder_id = $2`,
		jobName, holderID,
	)
	if err != nil {
		return fmt.Errorf("tenantrun/postgres: release lock: %w", err)
	}
	return nil
}

// GetLock returns the live lock for jobName.
func (s *Store) GetLock(ctx context.Context, jobName string) (*lock.Lock, error) {
	l := &lock.Lock{}
	err := s.pool.QueryRow(ctx, `
		SELECT job_name, holder_id, acquired_at, expires_at
		FROM tenantrun_locks
		WHERE job_name = $1 AND expires_at > NOW()`,
		jobName,
	).Scan(&l.JobName, &l.HolderID, &l.AcquiredAt, &l.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, tenantrun.ErrLockNotFound
		}
		return nil, fmt.Errorf("tenantrun/postgres: get lock: %w", err)
	}
	l.AcquiredAt = l.AcquiredAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	return l, nil
}
