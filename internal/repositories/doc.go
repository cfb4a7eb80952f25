// Package repositories implements the cache and queue persistence of the sync pipeline.
//
// Key Implementations:
//   - [Backend] : hash, set, list, prefix-scan and delete primitives
//   - [SQLiteBackend] : primitives on the shared SQLite database
//   - [BadgerBackend] : primitives on an embedded BadgerDB directory
//   - [LibraryRepository] : entities and relationship indices for one user namespace
//   - [JobRepository] : durable sync job queue with a per-namespace active index
//
// Cache keys are laid out as {namespace}:entity:{kind}:{id}, {namespace}:index:{relation}:{id} and
// {namespace}:meta:sync, so that deleting a namespace is a single prefix enumeration.
//
// The [NextSequence] function increments per-table sequence counters in dedicated sequence tables.
package repositories
