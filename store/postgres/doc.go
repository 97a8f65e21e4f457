// Package postgres provides a PostgreSQL implementation of
// checkpoint.Saver using pgx/v5.
//
// It uses pgxpool for connection pooling. Checkpoint rows carry a
// per-thread sequence number assigned inside a transaction; the
// highest sequence is the thread head. Pending writes live in a
// companion table keyed by ledger key.
//
// Run Migrate once at startup to create the schema.
package postgres
