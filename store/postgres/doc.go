// Package postgres implements the store using pgx/v5 with raw SQL.
// Locks are single-row upserts whose conflict branch only fires when the
// existing lease has expired, so the database clock decides expiry and
// concurrent acquirers serialize on the row. Migrations are embedded SQL.
package postgres
