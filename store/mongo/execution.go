package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
)

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if _, err := s.db.Collection(colExecutions).InsertOne(ctx, toExecutionModel(e)); err != nil {
		return fmt.Errorf("tenantrun/mongo: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	m := toExecutionModel(e)
	res, err := s.db.Collection(colExecutions).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("tenantrun/mongo: update execution: %w", err)
	}
	if res.MatchedCount == 0 {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// UpdateRunningExecution overwrites e while the stored document is
// RUNNING.
func (s *Store) UpdateRunningExecution(ctx context.Context, e *execution.Execution) (bool, error) {
	m := toExecutionModel(e)
	col := s.db.Collection(colExecutions)
	res, err := col.ReplaceOne(ctx, bson.M{"_id": m.ID, "status": string(execution.StatusRunning)}, m)
	if err != nil {
		return false, fmt.Errorf("tenantrun/mongo: update running execution: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := col.CountDocuments(ctx, bson.M{"_id": m.ID})
	if err != nil {
		return false, fmt.Errorf("tenantrun/mongo: update running execution: %w", err)
	}
	if n == 0 {
		return false, tenantrun.ErrExecutionNotFound
	}
	return false, nil
}

// GetExecution returns an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	var m executionModel
	err := s.db.Collection(colExecutions).FindOne(ctx, bson.M{"_id": execID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tenantrun.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("tenantrun/mongo: get execution: %w", err)
	}
	return fromExecutionModel(&m)
}

// LatestExecution returns the most recently started execution of a job.
func (s *Store) LatestExecution(ctx context.Context, jobName string) (*execution.Execution, error) {
	list, err := s.ListExecutions(ctx, jobName, execution.ListOpts{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, tenantrun.ErrExecutionNotFound
	}
	return list[0], nil
}

// ListExecutions returns executions of a job, most recent first.
func (s *Store) ListExecutions(ctx context.Context, jobName string, opts execution.ListOpts) ([]*execution.Execution, error) {
	filter := bson.M{"job_name": jobName}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(opts.EffectiveLimit()))

	cursor, err := s.db.Collection(colExecutions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/mongo: list executions: %w", err)
	}
	var models []executionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tenantrun/mongo: list executions decode: %w", err)
	}

	out := make([]*execution.Execution, 0, len(models))
	for i := range models {
		e, err := fromExecutionModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CreateTenantExecution persists a new tenant execution.
func (s *Store) CreateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	m := toTenantModel(te)
	m.Seq = s.nextSeq()
	if _, err := s.db.Collection(colTenantExecutions).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("tenantrun/mongo: create tenant execution: %w", err)
	}
	return nil
}

// UpdateTenantExecution overwrites the mutable fields of a tenant execution.
func (s *Store) UpdateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	m := toTenantModel(te)
	set := bson.M{
		"status":        m.Status,
		"attempt_count": m.AttemptCount,
		"error_kind":    m.ErrorKind,
		"error":         m.Error,
	}
	update := bson.M{"$set": set}
	if m.FinishedAt != nil {
		set["finished_at"] = *m.FinishedAt
	} else {
		update["$unset"] = bson.M{"finished_at": ""}
	}

	res, err := s.db.Collection(colTenantExecutions).UpdateOne(ctx, bson.M{"_id": m.ID}, update)
	if err != nil {
		return fmt.Errorf("tenantrun/mongo: update tenant execution: %w", err)
	}
	if res.MatchedCount == 0 {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// ListTenantExecutions returns every tenant execution of a run in the
// order they were created.
func (s *Store) ListTenantExecutions(ctx context.Context, execID id.ExecutionID) ([]*execution.TenantExecution, error) {
	cursor, err := s.db.Collection(colTenantExecutions).Find(ctx,
		bson.M{"execution_id": execID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/mongo: list tenant executions: %w", err)
	}
	var models []tenantModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tenantrun/mongo: list tenant executions decode: %w", err)
	}

	out := make([]*execution.TenantExecution, 0, len(models))
	for i := range models {
		te, err := fromTenantModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, nil
}
