package redis

import (
	"fmt"
	"time"

	"github.com/xraph/tenantrun"
)

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func migrateErr(err error) error {
	return fmt.Errorf("tenantrun/redis: load scripts: %w: %w", tenantrun.ErrMigrationFailed, err)
}
