// Package sqlitestore provides a SQLite implementation of
// checkpoint.Saver built on the Bun ORM.
//
// Each checkpoint row carries a per-thread sequence number; the
// highest sequence is the thread head. Re-putting a checkpoint id
// that already exists moves it to the head with the new payload.
// Pending writes live in a companion table keyed by ledger key.
//
// The caller owns the *bun.DB lifecycle; the store never closes it.
// Run Migrate once at startup to create the schema.
package sqlitestore
