// Package release drives a platform release end-to-end: collect the
// proposed service versions, validate pairwise compatibility, resolve the
// dependency graph into deployment phases, determine the next platform
// version, then promote phase by phase with rollback on failure.
//
// The Orchestrator owns one ReleaseContext per attempt and is the only
// writer to it; promotion results are the single exception, appended from
// per-service goroutines through a mutex-guarded, append-only list.
// Phases are strictly sequential; services within a phase share no
// dependency edges and are promoted concurrently.
//
// External collaborators (Promoter, IntegrityValidator, VersionSource,
// RegistryWriter) are the only suspension points. Every call carries a
// caller-supplied timeout; a timeout classifies as retryable and earns a
// single bounded retry before being treated as fatal.
package release
