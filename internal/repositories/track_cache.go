package repositories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
)

// TrackCacheAdapter stores track display metadata for queue re-hydration.
//
// Duplicate tracks refresh the existing row. UNIQUE constraint races are ignored.
type TrackCacheAdapter struct {
	repo *TrackRepository
}

// NewTrackCacheAdapter creates a new TrackCacheAdapter with the given repository
func NewTrackCacheAdapter(repo *TrackRepository) *TrackCacheAdapter {
	return &TrackCacheAdapter{repo: repo}
}

// CacheTrack stores or refreshes the metadata of track. Its stream URL is dropped.
func (a *TrackCacheAdapter) CacheTrack(track models.Track) error {
	existing, err := a.repo.GetByProviderID(track.Source, track.ID)
	switch {
	case err == nil:
		existing.SetTrack(track)
		if err := a.repo.Update(existing); err != nil {
			return fmt.Errorf("failed to refresh cached track: %w", err)
		}
		return nil
	case !errors.Is(err, shared.ErrTrackNotFound):
		return fmt.Errorf("failed to look up cached track: %w", err)
	}

	if err := a.repo.Create(models.NewCachedTrack(0, track)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil
		}
		return fmt.Errorf("failed to cache track: %w", err)
	}
	return nil
}

// CacheTracks stores every track, stopping at the first failure.
func (a *TrackCacheAdapter) CacheTracks(tracks []models.Track) error {
	for _, t := range tracks {
		if err := a.CacheTrack(t); err != nil {
			return err
		}
	}
	return nil
}

// Hydrate returns display metadata for refs, position by position.
//
// Refs with no cached row come back as a stub carrying only the id and provider,
// so a restored queue stays playable even when its metadata was never cached.
func (a *TrackCacheAdapter) Hydrate(refs []models.TrackRef) ([]models.Track, error) {
	tracks := make([]models.Track, len(refs))
	for i, ref := range refs {
		cached, err := a.repo.GetByProviderID(ref.Provider, ref.ID)
		switch {
		case err == nil:
			tracks[i] = cached.Track()
		case errors.Is(err, shared.ErrTrackNotFound):
			tracks[i] = models.Track{
				ID:     ref.ID,
				Title:  ref.ID,
				Artist: models.UnknownArtist,
				Album:  models.UnknownAlbum,
				Source: ref.Provider,
			}
		default:
			return nil, fmt.Errorf("failed to hydrate %s: %w", ref, err)
		}
	}
	return tracks, nil
}
