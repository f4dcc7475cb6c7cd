package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
)

const (
	playlistPageSize = 100
	MaxSourceTracks  = 5000
)

// FetchSource returns the tracks of an album, playlist or single track in collection order.
//
// Playlists are read page by page until a short page or [MaxSourceTracks].
// An adhoc source holding a track id fetches that one track.
func FetchSource(ctx context.Context, registry services.Registry, src models.SourceRef) ([]models.Track, error) {
	if src.ID == "" {
		return nil, fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}
	p, ok := registry.Get(src.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", shared.ErrServiceUnavailable, src.Provider)
	}

	switch src.Kind {
	case models.SourceAlbum:
		album, err := p.FetchAlbum(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch album %s: %w", src.ID, err)
		}
		return album.Tracks, nil
	case models.SourcePlaylist:
		var tracks []models.Track
		for offset := 0; offset < MaxSourceTracks; offset += playlistPageSize {
			page, err := p.PlaylistTracks(ctx, src.ID, offset, playlistPageSize)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch playlist %s at offset %d: %w", src.ID, offset, err)
			}
			tracks = append(tracks, page...)
			if len(page) < playlistPageSize {
				break
			}
		}
		return tracks, nil
	case models.SourceAdhoc:
		t, err := p.FetchTrack(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch track %s: %w", src.ID, err)
		}
		return []models.Track{*t}, nil
	default:
		return nil, fmt.Errorf("%w: cannot fetch a %q source", shared.ErrInvalidArgument, src.Kind)
	}
}
