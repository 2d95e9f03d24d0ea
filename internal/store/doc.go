// Package store provides the SQLite-backed relational store a dcstats run
// writes into.
//
// The store owns exactly three tables:
//   - observations: one row per model.Observation
//   - triples: one row per model.Triple
//   - key_value_store: one row per model.KeyValue (lookup_key is unique)
//
// # Critical Patterns
//
// Table order: every read and export uses ORDER BY rowid, so exports are
// byte-identical for byte-identical inputs.
//
// Whole-table writes: Persist replaces the contents of all three tables in a
// single transaction. A failed run leaves the previous contents untouched.
//
// Interchange format: Dump writes the schema and every row as an ordered
// sequence of SQL statements in the layout of SQLite's iterdump; Restore
// replays such a file into a fresh database.
//
// # Database Configuration
//
//   - WAL mode: readers do not block the single writer
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - one open connection: SQLite supports a single writer
//
// Every failure to open, read or write the database is marked
// failure.ErrStoreUnavailable.
package store
