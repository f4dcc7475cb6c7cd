package tasks

import (
	"context"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/resolver"
)

// Resolver resolves and caches stream URLs. Implemented by [resolver.Resolver].
type Resolver interface {
	Resolve(ctx context.Context, trackID string, provider models.ProviderID, quality models.StreamQuality) (*models.StreamURL, error)
	Invalidate(key resolver.Key) bool
}

// TrackCacher persists track display metadata so restored queues can be re-hydrated.
//
// Implemented by repositories.TrackCacheAdapter.
type TrackCacher interface {
	CacheTrack(track models.Track) error
}

// Hydrator looks up display metadata for queued track references, position by position.
type Hydrator interface {
	Hydrate(refs []models.TrackRef) ([]models.Track, error)
}

// QueueStore persists queue snapshots by name. Implemented by repositories.QueueRepository.
type QueueStore interface {
	Save(name string, snapshot models.QueueSnapshot) (*models.PersistedQueue, error)
	GetByName(name string) (*models.PersistedQueue, error)
}
