// Package store is the platform version registry: a SQLite-backed record
// of every release attempt and every promotion step taken against it.
//
// A platform version row is written after the version is determined and
// BEFORE promotion begins, so an audit record exists even when the
// release later fails. Rows are keyed by attempt token, so a retried
// release records a fresh row even when it determines the same platform
// version as its failed predecessor. The row's outcome is updated as the
// attempt reaches a terminal state. Promotion rows form a per-attempt ledger of
// what was actually pushed where, including rollback restores.
//
// SQLite runs in WAL mode with a single writer connection; schema
// migrations are tracked via PRAGMA user_version.
package store
