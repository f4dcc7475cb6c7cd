package models

import (
	"fmt"
	"time"
)

const (
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
	UnknownOwner  = "Unknown"
)

// Quality describes the audio quality a provider reports for a track.
//
// Every facet is optional. A nil facet means the provider did not report it.
type Quality struct {
	Bitrate    *int   `json:"bitrate,omitempty"`     // kbps
	SampleRate *int   `json:"sample_rate,omitempty"` // Hz
	BitDepth   *int   `json:"bit_depth,omitempty"`
	Label      string `json:"label,omitempty"` // opaque provider label, e.g. "preview"
}

// HasFacets reports whether any numeric facet is present.
func (q Quality) HasFacets() bool {
	return q.Bitrate != nil || q.SampleRate != nil || q.BitDepth != nil
}

// Track is a normalized, provider-agnostic track record.
type Track struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Artist    string     `json:"artist"`
	Album     string     `json:"album"`
	Duration  *int       `json:"duration,omitempty"` // seconds
	Source    ProviderID `json:"source"`
	CoverURL  *string    `json:"cover_url,omitempty"`
	Quality   Quality    `json:"quality"`
	StreamURL *string    `json:"stream_url,omitempty"` // ephemeral, never persisted
}

// Key identifies a track across providers.
func (t Track) Key() string {
	return fmt.Sprintf("%s:%s", t.Source, t.ID)
}

// Ref returns the queue reference for t.
func (t Track) Ref() TrackRef { return TrackRef{ID: t.ID, Provider: t.Source} }

// Album is a normalized album with its ordered tracks, which may be empty.
type Album struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	ReleaseDate *string    `json:"release_date,omitempty"`
	CoverURL    *string    `json:"cover_url,omitempty"`
	Tracks      []Track    `json:"tracks"`
	Source      ProviderID `json:"source"`
}

// PlaylistSearchResult is a playlist summary returned from a search.
//
// Placeholder entries stand in for playlists whose payload could not be decoded.
type PlaylistSearchResult struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Owner       string     `json:"owner"`
	Provider    ProviderID `json:"provider"`
	CoverURL    *string    `json:"cover_url,omitempty"`
	TrackCount  int        `json:"track_count"`
	Public      bool       `json:"public"`
	ExternalURL *string    `json:"external_url,omitempty"`
	Placeholder bool       `json:"placeholder,omitempty"`
	Problem     string     `json:"problem,omitempty"`
}

// NewPlaceholderPlaylist builds the stand-in for the playlist at index that failed to decode.
func NewPlaceholderPlaylist(provider ProviderID, index int, err error) PlaylistSearchResult {
	problem := "malformed playlist payload"
	if err != nil {
		problem = err.Error()
	}
	return PlaylistSearchResult{
		ID:          fmt.Sprintf("%s:invalid:%d", provider, index),
		Name:        "Unavailable playlist",
		Owner:       UnknownOwner,
		Provider:    provider,
		Placeholder: true,
		Problem:     problem,
	}
}

// SearchType selects which result categories a search returns.
type SearchType string

const (
	SearchAll      SearchType = "all"
	SearchTrack    SearchType = "track"
	SearchAlbum    SearchType = "album"
	SearchPlaylist SearchType = "playlist"
)

// ParseSearchType maps s onto a [SearchType], defaulting to [SearchAll].
func ParseSearchType(s string) SearchType {
	switch SearchType(s) {
	case SearchTrack, SearchAlbum, SearchPlaylist:
		return SearchType(s)
	case "tracks":
		return SearchTrack
	case "albums":
		return SearchAlbum
	case "playlists":
		return SearchPlaylist
	default:
		return SearchAll
	}
}

// IncludesTracks reports whether tracks are requested.
func (s SearchType) IncludesTracks() bool { return s == SearchAll || s == SearchTrack }

// IncludesAlbums reports whether albums are requested.
func (s SearchType) IncludesAlbums() bool { return s == SearchAll || s == SearchAlbum }

// IncludesPlaylists reports whether playlists are requested.
func (s SearchType) IncludesPlaylists() bool { return s == SearchPlaylist }

// SearchResults is one page of search output.
//
// Total may exceed the sizes of the local lists.
type SearchResults struct {
	Tracks    []Track                `json:"tracks"`
	Albums    []Album                `json:"albums"`
	Playlists []PlaylistSearchResult `json:"playlists"`
	Total     int                    `json:"total"`
	Offset    int                    `json:"offset"`
	Limit     int                    `json:"limit"`
	Providers []ProviderID           `json:"providers,omitempty"`
}

// NewSearchResults returns an empty page with non-nil lists.
func NewSearchResults(offset, limit int) *SearchResults {
	return &SearchResults{
		Tracks:    []Track{},
		Albums:    []Album{},
		Playlists: []PlaylistSearchResult{},
		Offset:    offset,
		Limit:     limit,
	}
}

// Len returns the number of local results across every category.
func (r *SearchResults) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Tracks) + len(r.Albums) + len(r.Playlists)
}

// StreamURL is a resolved, playable URL together with its cache provenance.
type StreamURL struct {
	URL        string        `json:"url"`
	TrackID    string        `json:"track_id"`
	Provider   ProviderID    `json:"provider"`
	Quality    StreamQuality `json:"quality"`
	IsCached   bool          `json:"is_cached"`
	Shared     bool          `json:"shared,omitempty"`
	ObtainedAt time.Time     `json:"obtained_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}
