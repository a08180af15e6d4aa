// Package bunstore implements store.Store on Bun with the PostgreSQL
// dialect, for services that already hold a *bun.DB.
//
// The schema matches store/postgres, so the two backends can share a
// database. Lock acquisition is one raw upsert whose conflict branch only
// fires on an expired lease; every other operation goes through Bun's
// query builder.
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	s := bunstore.New(bun.NewDB(sqldb, pgdialect.New()))
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
