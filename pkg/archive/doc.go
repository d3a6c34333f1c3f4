// Package archive stores finished and parked traces.
//
// Two backends implement Store: MemoryStore for tests and single-process
// use, and SQLiteStore (github.com/mattn/go-sqlite3) for durable storage.
// A trace may be saved repeatedly while it is open; once it reaches
// MCP_OUTCOME or ABANDONED the stored copy is final and further saves fail
// with ErrImmutable.
//
// Retention of old traces lives in the retention subpackage.
package archive
