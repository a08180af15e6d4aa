package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/lock"
)

// leaseUpdate sets expires_at relative to the server clock.
func leaseUpdate(holderID string, lease time.Duration, stampAcquired bool) bson.A {
	set := bson.M{
		"holder_id":  holderID,
		"expires_at": bson.M{"$add": bson.A{"$$NOW", lease.Milliseconds()}},
	}
	if stampAcquired {
		set["acquired_at"] = "$$NOW"
	}
	return bson.A{bson.M{"$set": set}}
}

// AcquireLock upserts the lock document, matching only an expired one. A
// live lock fails the match, so the upsert collides on _id and the caller
// is told the lock is busy.
func (s *Store) AcquireLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	_, err := s.db.Collection(colLocks).UpdateOne(ctx,
		bson.M{
			"_id":   jobName,
			"$expr": bson.M{"$lte": bson.A{"$expires_at", "$$NOW"}},
		},
		leaseUpdate(holderID, lease, true),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("tenantrun/mongo: acquire lock: %w", err)
	}
	return true, nil
}

// RenewLock extends the lease if holderID still holds it.
func (s *Store) RenewLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	res, err := s.db.Collection(colLocks).UpdateOne(ctx,
		bson.M{"_id": jobName, "holder_id": holderID},
		leaseUpdate(holderID, lease, false),
	)
	if err != nil {
		return false, fmt.Errorf("tenantrun/mongo: renew lock: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// ReleaseLock deletes the lock if holderID holds it.
func (s *Store) ReleaseLock(ctx context.Context, jobName, holderID string) error {
	_, err := s.db.Collection(colLocks).DeleteOne(ctx, bson.M{"_id": jobName, "holder_id": holderID})
	if err != nil {
		return fmt.Errorf("tenantrun/mongo: release lock: %w", err)
	}
	return nil
}

// GetLock returns the live lock for jobName.
func (s *Store) GetLock(ctx context.Context, jobName string) (*lock.Lock, error) {
	var m lockModel
	err := s.db.Collection(colLocks).FindOne(ctx, bson.M{
		"_id":   jobName,
		"$expr": bson.M{"$gt": bson.A{"$expires_at", "$$NOW"}},
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tenantrun.ErrLockNotFound
		}
		return nil, fmt.Errorf("tenantrun/mongo: get lock: %w", err)
	}
	return fromLockModel(&m), nil
}
