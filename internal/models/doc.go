// Package models defines domain entities and persistence interfaces for sonar.
//
// The package contains two categories of types:
//
// 1. Normalized records produced by the provider adapters
//   - [Track] : Song metadata with nullable duration, cover and [Quality] facets
//   - [Album] : Album metadata with an ordered (possibly empty) track list
//   - [PlaylistSearchResult] : Playlist summary, or a placeholder for an undecodable entry
//   - [SearchResults] : One page of merged search output
//   - [StreamURL] : A resolved URL and whether it came from the cache
//
// 2. Queue state and persistent entities
//   - [QueueSnapshot] : Flat record of a playback queue, round-trippable
//   - [PersistedQueue] : Snapshot with repository bookkeeping
//   - [CachedTrack] : Display metadata used to re-hydrate restored queues
//
// All persistent entities implement the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
