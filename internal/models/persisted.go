package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	_ Model = (*PersistedQueue)(nil)
	_ Model = (*CachedTrack)(nil)
)

// PersistedQueue wraps a [QueueSnapshot] with repository bookkeeping.
type PersistedQueue struct {
	id        string
	sequence  int
	name      string
	snapshot  QueueSnapshot
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time
}

// NewPersistedQueue creates a PersistedQueue for snapshot under the given name.
func NewPersistedQueue(sequence int, name string, snapshot QueueSnapshot) *PersistedQueue {
	now := time.Now()
	created := snapshot.CreatedAt
	if created.IsZero() {
		created = now
	}
	return &PersistedQueue{
		id:        snapshot.ID,
		sequence:  sequence,
		name:      name,
		snapshot:  snapshot,
		createdAt: created,
		updatedAt: now,
	}
}

func (q *PersistedQueue) ID() string               { return q.id }
func (q *PersistedQueue) Sequence() int            { return q.sequence }
func (q *PersistedQueue) Name() string             { return q.name }
func (q *PersistedQueue) Snapshot() QueueSnapshot  { return q.snapshot }
func (q *PersistedQueue) CreatedAt() time.Time     { return q.createdAt }
func (q *PersistedQueue) UpdatedAt() time.Time     { return q.updatedAt }
func (q *PersistedQueue) DeletedAt() *time.Time    { return q.deletedAt }
func (q *PersistedQueue) SetID(id string)          { q.id = id; q.snapshot.ID = id }
func (q *PersistedQueue) SetSequence(seq int)      { q.sequence = seq }
func (q *PersistedQueue) SetUpdatedAt(t time.Time) { q.updatedAt = t }
func (q *PersistedQueue) SetDeletedAt(t *time.Time) {
	q.deletedAt = t
}

// SetSnapshot replaces the stored snapshot, keeping the id stable.
func (q *PersistedQueue) SetSnapshot(s QueueSnapshot) {
	s.ID = q.id
	q.snapshot = s
}

// Validate checks that the snapshot is internally consistent.
func (q *PersistedQueue) Validate() error {
	if q.name == "" {
		return errors.New("queue name is required")
	}
	s := q.snapshot
	if len(s.Order) > len(s.Tracks) {
		return fmt.Errorf("queue order has %d entries for %d tracks", len(s.Order), len(s.Tracks))
	}
	for _, pos := range s.Order {
		if pos < 0 || pos >= len(s.Tracks) {
			return fmt.Errorf("queue order references missing track %d", pos)
		}
	}
	if len(s.Order) > 0 && (s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Order)) {
		return fmt.Errorf("current index %d out of range", s.CurrentIndex)
	}
	if s.RepeatCount < 0 || s.RepeatsDone < 0 {
		return errors.New("repeat counters must not be negative")
	}
	return nil
}

// CachedTrack stores the display metadata of a track so queues can be re-hydrated without a provider call.
type CachedTrack struct {
	id        string
	sequence  int
	track     Track
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time
}

// NewCachedTrack creates a CachedTrack. The stream URL is always dropped.
func NewCachedTrack(sequence int, track Track) *CachedTrack {
	now := time.Now()
	track.StreamURL = nil
	return &CachedTrack{
		sequence:  sequence,
		track:     track,
		createdAt: now,
		updatedAt: now,
	}
}

func (c *CachedTrack) ID() string                { return c.id }
func (c *CachedTrack) Sequence() int             { return c.sequence }
func (c *CachedTrack) Track() Track              { return c.track }
func (c *CachedTrack) Provider() ProviderID      { return c.track.Source }
func (c *CachedTrack) ProviderTrackID() string   { return c.track.ID }
func (c *CachedTrack) CreatedAt() time.Time      { return c.createdAt }
func (c *CachedTrack) UpdatedAt() time.Time      { return c.updatedAt }
func (c *CachedTrack) DeletedAt() *time.Time     { return c.deletedAt }
func (c *CachedTrack) SetID(id string)           { c.id = id }
func (c *CachedTrack) SetSequence(seq int)       { c.sequence = seq }
func (c *CachedTrack) SetCreatedAt(t time.Time)  { c.createdAt = t }
func (c *CachedTrack) SetUpdatedAt(t time.Time)  { c.updatedAt = t }
func (c *CachedTrack) SetDeletedAt(t *time.Time) { c.deletedAt = t }

// SetTrack replaces the stored metadata, dropping any stream URL.
func (c *CachedTrack) SetTrack(t Track) {
	t.StreamURL = nil
	c.track = t
}

// Validate checks required fields.
func (c *CachedTrack) Validate() error {
	if c.track.ID == "" {
		return errors.New("track id is required")
	}
	if !c.track.Source.Known() {
		return fmt.Errorf("unknown provider %q", c.track.Source)
	}
	if c.track.Title == "" {
		return errors.New("track title is required")
	}
	return nil
}
