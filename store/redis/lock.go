package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/lock"
)

// Timestamps come from the server clock (TIME) so that every engine
// instance measures the lease against the same clock.
var acquireScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local lease = tonumber(ARGV[2])
redis.call('HSET', KEYS[1], 'holder_id', ARGV[1], 'acquired_at', now, 'expires_at', now + lease)
redis.call('PEXPIRE', KEYS[1], lease)
return 1
`)

var renewScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder_id') ~= ARGV[1] then
	return 0
end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local lease = tonumber(ARGV[2])
redis.call('HSET', KEYS[1], 'expires_at', now + lease)
redis.call('PEXPIRE', KEYS[1], lease)
return 1
`)

var releaseScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder_id') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLock creates the lease if no live one exists. Expired leases have
// already been evicted by Redis.
func (s *Store) AcquireLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client, []string{s.keys.lock(jobName)}, holderID, lease.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("tenantrun/redis: acquire lock: %w", err)
	}
	return n == 1, nil
}

// RenewLock extends the lease if holderID still holds it.
func (s *Store) RenewLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{s.keys.lock(jobName)}, holderID, lease.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("tenantrun/redis: renew lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseLock deletes the lease if holderID holds it.
func (s *Store) ReleaseLock(ctx context.Context, jobName, holderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.keys.lock(jobName)}, holderID).Err(); err != nil {
		return fmt.Errorf("tenantrun/redis: release lock: %w", err)
	}
	return nil
}

// GetLock returns the live lease for jobName.
func (s *Store) GetLock(ctx context.Context, jobName string) (*lock.Lock, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.lock(jobName)).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantrun/redis: get lock: %w", err)
	}
	if len(vals) == 0 {
		return nil, tenantrun.ErrLockNotFound
	}

	acquired, err := parseMillis(vals["acquired_at"])
	if err != nil {
		return nil, fmt.Errorf("tenantrun/redis: parse acquired_at: %w", err)
	}
	expires, err := parseMillis(vals["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("tenantrun/redis: parse expires_at: %w", err)
	}
	return &lock.Lock{
		JobName:    jobName,
		HolderID:   vals["holder_id"],
		AcquiredAt: acquired,
		ExpiresAt:  expires,
	}, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
