// Package database is the durable catalog store for smart-gallery.
//
// The catalog is a single SQLite database in WAL mode holding one row per
// tracked file plus a small key/value metadata table. Its layout is gated by
// PRAGMA user_version: when the stored version differs from SchemaVersion
// the tables are dropped and recreated empty, and the next sync repopulates
// them. There are no in-place migrations.
//
// Writes follow a single-writer discipline. UpsertBatch, MarkScanned and the
// other mutating calls serialize on one mutex, while reads use the
// connection pool concurrently. UpsertBatch applies a bounded batch of
// entries and deletions atomically, retrying a failed transaction once
// before returning the error.
package database
