// Package tasks drives playback on top of the queue and the stream URL resolver, with real-time progress reporting.
//
// # Playback
//
// [Controller] owns the hand-off to the audio sink:
//
//  1. [Controller.Play] : resolve the current track and load it into the [Sink]
//     - Fails with queue.ErrEmptyQueue when nothing is queued
//     - A sink answering [ErrStreamExpired] gets one fresh URL after the cached one is dropped
//     - Starts a background prefetch of the next few tracks
//
//  2. [Controller.Next] / [Controller.Previous] / [Controller.JumpTo] : move and play
//     - Running past the end under loop=once stops playback without an error
//
//  3. [Controller.Save] / [Controller.Restore] : persist the queue by name and re-hydrate its metadata
//
// The sink reports its decoded [OutputFormat] back through [Controller.ReportFormat].
//
// # Prefetching
//
// [Prefetch] warms the resolver cache with a rate-limited worker pool. Per-track failures are collected, not raised.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Track Caching
//
// The optional [TrackCacher] stores display metadata for every loaded track so saved queues can be shown without a provider call.
// Cache failures are logged and never interrupt playback.
package tasks
