// Package history persists completed analyses in SQLite so results can be
// listed and re-rendered later.
//
// The store is an adapter around the pipeline: it records Result values after
// the fact and never feeds anything back into an analysis. Writes retry on
// SQLITE_BUSY so the CLI and a running server can share one database.
package history
