package services

import (
	"context"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// Provider is the adapter contract every streaming catalog implements.
//
// Implementations own their authentication state, rate-limit themselves and return
// [*ProviderError] for every failure.
type Provider interface {
	// ID returns the stable provider identifier.
	ID() models.ProviderID

	// Name returns the display name of the provider.
	Name() string

	// Authenticated reports whether a user session is available.
	// Unauthenticated adapters may still search but can be capped to lower qualities.
	Authenticated() bool

	// Search returns one page of normalized results of the requested kind.
	Search(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error)

	// ResolveStreamURL returns a playable URL for trackID at the requested quality.
	ResolveStreamURL(ctx context.Context, trackID string, quality models.StreamQuality) (*StreamGrant, error)

	// FetchTrack returns the normalized metadata of one track.
	FetchTrack(ctx context.Context, trackID string) (*models.Track, error)

	// FetchAlbum returns the normalized metadata of one album with its tracks.
	FetchAlbum(ctx context.Context, albumID string) (*models.Album, error)

	// PlaylistTracks returns one page of a playlist's tracks in playlist order.
	PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]models.Track, error)
}

// StreamGrant is a resolved URL with the expiry the provider declared, if any.
type StreamGrant struct {
	URL       string
	ExpiresAt time.Time // zero when the provider declared no expiry
	Quality   models.Quality
}

// Registry indexes providers by id.
type Registry map[models.ProviderID]Provider

// NewRegistry builds a [Registry] from providers, skipping nils.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		if p != nil {
			r[p.ID()] = p
		}
	}
	return r
}

// Get returns the provider registered under id.
func (r Registry) Get(id models.ProviderID) (Provider, bool) {
	p, ok := r[id]
	return p, ok
}

// IDs returns the registered ids sorted alphabetically.
func (r Registry) IDs() []models.ProviderID {
	ids := make([]models.ProviderID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// adapter carries the pieces every concrete provider shares.
type adapter struct {
	api    *APIClient
	logger *log.Logger
}

// SetLogger replaces the logger used for dropped items and request failures.
func (a *adapter) SetLogger(l *log.Logger) {
	a.logger = l
	a.api.SetLogger(l)
}

// SetMetrics wires request counters into the transport.
func (a *adapter) SetMetrics(m *metrics.Metrics) {
	a.api.SetMetrics(m)
}

// clampPage normalizes paging parameters.
func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return offset, limit
}
