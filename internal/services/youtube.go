// YouTube Music API [Provider] implementation
//
// Communicates with the FastAPI proxy server (music/) running on port 8080.
// The proxy wraps ytmusicapi Python library for YouTube Music operations.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/samber/lo"
)

const defaultYTBaseURL string = "http://localhost:8080"

// YouTubeImage represents an image/thumbnail from YouTube Music.
type YouTubeImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type youtubeAlbumRef struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents a track/video in YouTube Music responses.
type YouTubeTrack struct {
	VideoID     string           `json:"videoId"`
	Title       string           `json:"title"`
	Artists     []YouTubeArtist  `json:"artists"`
	Album       *youtubeAlbumRef `json:"album"`
	Duration    string           `json:"duration"`
	DurationSec int              `json:"duration_seconds"`
	Thumbnails  []YouTubeImage   `json:"thumbnails"`
}

// YouTubeAlbum represents an album from YouTube Music. Tracks are only present on /api/albums/{id}.
type YouTubeAlbum struct {
	BrowseID   string            `json:"browseId"`
	Title      string            `json:"title"`
	Artists    []YouTubeArtist   `json:"artists"`
	Year       string            `json:"year"`
	Thumbnails []YouTubeImage    `json:"thumbnails"`
	Tracks     []json.RawMessage `json:"tracks,omitempty"`
}

// YouTubePlaylist represents a playlist from YouTube Music.
type YouTubePlaylist struct {
	ID          string            `json:"id"`
	PlaylistID  string            `json:"playlistId"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Author      string            `json:"author"`
	Privacy     string            `json:"privacy"`
	Thumbnails  []YouTubeImage    `json:"thumbnails"`
	TrackCount  int               `json:"trackCount"`
	Tracks      []json.RawMessage `json:"tracks,omitempty"`
}

type youtubeStream struct {
	URL        string `json:"url"`
	ExpiresIn  int    `json:"expires_in"` // seconds
	Bitrate    int    `json:"bitrate"`    // kbps
	MimeType   string `json:"mime_type"`
	SampleRate int    `json:"sample_rate"`
}

// YouTubeService implements [Provider] for YouTube Music via proxy.
type YouTubeService struct {
	adapter
	authFile string
	now      func() time.Time
}

var _ Provider = (*YouTubeService)(nil)

// NewYouTubeService creates a new YouTube Music service instance.
func NewYouTubeService(baseURL string, client *http.Client, rps float64) *YouTubeService {
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}

	return &YouTubeService{
		adapter: adapter{
			api:    NewAPIClient(models.ProviderYouTube, baseURL, client, rps),
			logger: log.Default(),
		},
		now: time.Now,
	}
}

func (y *YouTubeService) ID() models.ProviderID { return models.ProviderYouTube }

// Name returns the service name.
func (y *YouTubeService) Name() string { return "YouTube Music" }

// Authenticated reports whether an auth file has been configured for the proxy.
func (y *YouTubeService) Authenticated() bool { return y.authFile != "" }

// Authenticate stores the authentication file path for subsequent requests.
//
// Expects credentials["auth_file"] to contain the path to browser.json or oauth.json.
func (y *YouTubeService) Authenticate(_ context.Context, credentials map[string]string) error {
	authFile, ok := credentials["auth_file"]
	if !ok || authFile == "" {
		return fmt.Errorf("%w: missing auth_file", shared.ErrMissingCredentials)
	}

	y.authFile = authFile
	y.api.SetHeader("X-Auth-File", authFile)
	return nil
}

// Search calls GET /api/search on the proxy.
//
// The proxy only accepts a limit, so offset+limit items are requested and the page is sliced locally.
func (y *YouTubeService) Search(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error) {
	offset, limit = clampPage(offset, limit)
	results := models.NewSearchResults(offset, limit)
	wantTracks, wantAlbums, wantPlaylists := trackKinds(kind)

	if wantTracks {
		items, err := y.search(ctx, query, "songs", offset+limit)
		if err != nil {
			return nil, err
		}
		results.Tracks = keepValid(y.logger, y.ID(), "track", decodeEach(pageOf(items, offset, limit), y.normalizeTrack))
		results.Total += len(items)
	}
	if wantAlbums {
		items, err := y.search(ctx, query, "albums", offset+limit)
		if err != nil {
			return nil, err
		}
		results.Albums = keepValid(y.logger, y.ID(), "album", decodeEach(pageOf(items, offset, limit), y.normalizeAlbum))
		results.Total += len(items)
	}
	if wantPlaylists {
		items, err := y.search(ctx, query, "playlists", offset+limit)
		if err != nil {
			return nil, err
		}
		results.Playlists = playlistsWithPlaceholders(y.ID(), decodeEach(pageOf(items, offset, limit), y.normalizePlaylist))
		results.Total += len(items)
	}
	return results, nil
}

func (y *YouTubeService) search(ctx context.Context, query, filter string, limit int) ([]json.RawMessage, error) {
	params := url.Values{
		"q":      {query},
		"filter": {filter},
		"limit":  {strconv.Itoa(limit)},
	}
	var items []json.RawMessage
	if err := y.api.GetJSON(ctx, "search", "/api/search", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ResolveStreamURL calls GET /api/stream/{id} on the proxy.
//
// Expiry comes from expires_in, or from the expire parameter googlevideo URLs carry.
func (y *YouTubeService) ResolveStreamURL(ctx context.Context, trackID string, quality models.StreamQuality) (*StreamGrant, error) {
	params := url.Values{"quality": {youtubeQuality(quality)}}

	var stream youtubeStream
	if err := y.api.GetJSON(ctx, "resolve", "/api/stream/"+url.PathEscape(trackID), params, &stream); err != nil {
		return nil, err
	}
	if stream.URL == "" {
		return nil, newProviderError(y.ID(), "resolve", KindNotFound, fmt.Errorf("no stream for video %s", trackID))
	}

	grant := &StreamGrant{
		URL: stream.URL,
		Quality: models.Quality{
			Bitrate:    optionalPositive(stream.Bitrate),
			SampleRate: optionalPositive(stream.SampleRate),
			Label:      stream.MimeType,
		},
	}
	if stream.ExpiresIn > 0 {
		grant.ExpiresAt = y.now().Add(time.Duration(stream.ExpiresIn) * time.Second)
	} else {
		grant.ExpiresAt = expiryFromURL(stream.URL, "expire")
	}
	return grant, nil
}

// FetchTrack calls GET /api/songs/{id} on the proxy.
func (y *YouTubeService) FetchTrack(ctx context.Context, trackID string) (*models.Track, error) {
	var raw YouTubeTrack
	if err := y.api.GetJSON(ctx, "track", "/api/songs/"+url.PathEscape(trackID), nil, &raw); err != nil {
		return nil, err
	}
	track, err := y.normalizeTrack(raw)
	if err != nil {
		return nil, newProviderError(y.ID(), "track", KindMalformed, err)
	}
	return &track, nil
}

// FetchAlbum calls GET /api/albums/{id} on the proxy.
func (y *YouTubeService) FetchAlbum(ctx context.Context, albumID string) (*models.Album, error) {
	var raw YouTubeAlbum
	if err := y.api.GetJSON(ctx, "album", "/api/albums/"+url.PathEscape(albumID), nil, &raw); err != nil {
		return nil, err
	}
	if raw.BrowseID == "" {
		raw.BrowseID = albumID
	}
	album, err := y.normalizeAlbum(raw)
	if err != nil {
		return nil, newProviderError(y.ID(), "album", KindMalformed, err)
	}
	return &album, nil
}

// PlaylistTracks calls GET /api/playlists/{id} on the proxy, which returns every track at once.
func (y *YouTubeService) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]models.Track, error) {
	offset, limit = clampPage(offset, limit)

	var raw YouTubePlaylist
	if err := y.api.GetJSON(ctx, "playlist", "/api/playlists/"+url.PathEscape(playlistID), nil, &raw); err != nil {
		return nil, err
	}
	return keepValid(y.logger, y.ID(), "track", decodeEach(pageOf(raw.Tracks, offset, limit), y.normalizeTrack)), nil
}

func youtubeQuality(q models.StreamQuality) string {
	switch q {
	case models.QualityLossy, models.QualityPreview:
		return "low"
	default:
		return "high"
	}
}

func largestThumbnail(images []YouTubeImage) *string {
	if len(images) == 0 {
		return nil
	}
	best := lo.MaxBy(images, func(a, b YouTubeImage) bool { return a.Width*a.Height > b.Width*b.Height })
	return optionalString(best.URL)
}

func youtubeArtists(artists []YouTubeArtist) string {
	return joinNames(lo.Map(artists, func(a YouTubeArtist, _ int) string { return a.Name }), models.UnknownArtist)
}

func (y *YouTubeService) normalizeTrack(raw YouTubeTrack) (models.Track, error) {
	if raw.VideoID == "" {
		return models.Track{}, errors.New("track without videoId")
	}
	if raw.Title == "" {
		return models.Track{}, fmt.Errorf("track %s without title", raw.VideoID)
	}

	duration := optionalPositive(raw.DurationSec)
	if duration == nil {
		duration = parseClock(raw.Duration)
	}

	track := models.Track{
		ID:       raw.VideoID,
		Title:    raw.Title,
		Artist:   youtubeArtists(raw.Artists),
		Album:    models.UnknownAlbum,
		Duration: duration,
		Source:   models.ProviderYouTube,
		CoverURL: largestThumbnail(raw.Thumbnails),
		Quality:  models.Quality{Label: "AAC"},
	}
	if raw.Album != nil {
		track.Album = orDefault(raw.Album.Name, models.UnknownAlbum)
	}
	return track, nil
}

func (y *YouTubeService) normalizeAlbum(raw YouTubeAlbum) (models.Album, error) {
	if raw.BrowseID == "" {
		return models.Album{}, errors.New("album without browseId")
	}

	album := models.Album{
		ID:          raw.BrowseID,
		Title:       orDefault(raw.Title, models.UnknownAlbum),
		Artist:      youtubeArtists(raw.Artists),
		ReleaseDate: optionalString(raw.Year),
		CoverURL:    largestThumbnail(raw.Thumbnails),
		Tracks:      []models.Track{},
		Source:      models.ProviderYouTube,
	}

	tracks := keepValid(y.logger, y.ID(), "track", decodeEach(raw.Tracks, y.normalizeTrack))
	for i := range tracks {
		tracks[i].Album = album.Title
		if tracks[i].CoverURL == nil {
			tracks[i].CoverURL = album.CoverURL
		}
	}
	album.Tracks = tracks
	return album, nil
}

func (y *YouTubeService) normalizePlaylist(raw YouTubePlaylist) (models.PlaylistSearchResult, error) {
	id := lo.CoalesceOrEmpty(raw.PlaylistID, raw.ID)
	if id == "" {
		return models.PlaylistSearchResult{}, errors.New("playlist without id")
	}
	if raw.Title == "" {
		return models.PlaylistSearchResult{}, fmt.Errorf("playlist %s without title", id)
	}

	return models.PlaylistSearchResult{
		ID:          id,
		Name:        raw.Title,
		Description: optionalString(raw.Description),
		Owner:       orDefault(raw.Author, models.UnknownOwner),
		Provider:    models.ProviderYouTube,
		CoverURL:    largestThumbnail(raw.Thumbnails),
		TrackCount:  raw.TrackCount,
		Public:      raw.Privacy == "" || strings.EqualFold(raw.Privacy, "PUBLIC"),
		ExternalURL: lo.ToPtr("https://music.youtube.com/playlist?list=" + url.QueryEscape(id)),
	}, nil
}
