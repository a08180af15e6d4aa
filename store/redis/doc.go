// Package redis implements store.Store using Redis for deployments that
// already run it for coordination. Locks are Hashes guarded by Lua scripts
// and a PEXPIRE lease, executions are msgpack-encoded strings, and each
// job's history is a Sorted Set scored by start time. Writes to a running
// execution happen under WATCH so that a run closed by another holder is
// never reopened; New therefore takes a client that supports transactions.
//
// Redis evicts expired lock keys on its own, so an abandoned lease frees
// itself without any sweeper.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
