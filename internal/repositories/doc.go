// Package repositories implements SQLite persistence for playback queues and track metadata.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// All repositories support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
//
// Key Implementations:
//   - [QueueRepository] : Queue snapshots with name-based lookups
//   - [TrackRepository] : Track display metadata keyed by provider and provider track id
//   - [TrackCacheAdapter] : Upserts metadata and re-hydrates restored queues
//
// Stream URLs are ephemeral and are never written by any repository.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
