package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// millis converts a lease to the integer milliseconds the SQL expects.
func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
