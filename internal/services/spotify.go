// Spotify API implementation of [Provider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
// Only 30 second previews are streamable through the Web API.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// Spotify previews are 30 second MP3 clips.
const (
	spotifyPreviewBitrate    = 160
	spotifyPreviewSampleRate = 44100
	spotifyPreviewLabel      = "preview"
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a Spotify album. Tracks are only present on /albums/{id}.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []SpotifyImage  `json:"images"`
	Tracks      *spotifyPage    `json:"tracks"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      *SpotifyAlbum   `json:"album"`
	DurationMS int             `json:"duration_ms"`
	PreviewURL *string         `json:"preview_url"`
	IsLocal    bool            `json:"is_local"`
}

// Owner is a playlist owner.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type simplePlaylistTrack struct {
	Total int `json:"total"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Owner        *Owner              `json:"owner"`
	Public       *bool               `json:"public"`
	Tracks       simplePlaylistTrack `json:"tracks"`
	Images       []SpotifyImage      `json:"images"`
	ExternalURLs externalURLs        `json:"external_urls"`
}

// SpotifyPlaylistTrack represents a track within a playlist context. Track is null for removed items.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

type spotifyPage struct {
	Items  []json.RawMessage `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Next   *string           `json:"next"`
}

type spotifySearchResponse struct {
	Tracks    *spotifyPage `json:"tracks"`
	Albums    *spotifyPage `json:"albums"`
	Playlists *spotifyPage `json:"playlists"`
}

// SpotifyService implements [Provider] for the Spotify Web API.
//
// Uses [oauth2] for user sessions and falls back to the client credentials grant,
// which allows catalog reads without a user.
type SpotifyService struct {
	adapter
	config         *oauth2.Config
	appConfig      *clientcredentials.Config
	token          *oauth2.Token
	baseClient     *http.Client
	tokenSource    *refreshableTokenSource
	onTokenRefresh func(*oauth2.Token)
	mu             sync.Mutex
	ready          bool
}

var _ Provider = (*SpotifyService)(nil)

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
//
// Requires "client_id" and "client_secret". "redirect_uri", "base_url" and "token_url" are optional.
func NewSpotifyService(credentials map[string]string, client *http.Client, rps float64) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	if client == nil {
		client = http.DefaultClient
	}
	tokenURL := lo.CoalesceOrEmpty(credentials["token_url"], spotifyTokenURL)

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  lo.CoalesceOrEmpty(credentials["redirect_uri"], "http://localhost:8080/callback"),
		Scopes: []string{
			"user-read-private",
			"playlist-read-private",
			"playlist-read-collaborative",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: tokenURL,
		},
	}

	api := NewAPIClient(models.ProviderSpotify, lo.CoalesceOrEmpty(credentials["base_url"], spotifyBaseURL), client, rps)
	return &SpotifyService{
		adapter: adapter{api: api, logger: log.Default()},
		config:  config,
		appConfig: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
		baseClient: client,
	}, nil
}

func (s *SpotifyService) ID() models.ProviderID { return models.ProviderSpotify }
func (s *SpotifyService) Name() string          { return "Spotify" }

func (s *SpotifyService) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != nil
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// SetTokenRefreshCallback registers fn to receive every token the session obtains, including refreshes.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenRefresh = fn
	if s.tokenSource != nil {
		s.tokenSource.setCallback(fn)
	}
}

// Authenticate installs a user session. Expects "access_token", with optional "refresh_token"
// and "expiry" (RFC 3339). A refresh token lets the session renew itself.
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	accessToken := credentials["access_token"]
	if accessToken == "" {
		return fmt.Errorf("%w: missing access_token", shared.ErrMissingCredentials)
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: credentials["refresh_token"],
		TokenType:    "Bearer",
	}
	if raw := credentials["expiry"]; raw != "" {
		expiry, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("%w: expiry: %v", shared.ErrInvalidConfig, err)
		}
		token.Expiry = expiry
	}

	ctx = s.tokenContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.install(ctx, s.config.TokenSource(ctx, token))
	return nil
}

// tokenContext detaches ctx from cancellation, since the token source outlives the call,
// and routes token requests through the configured HTTP client.
func (s *SpotifyService) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, s.baseClient)
}

// install wires src into the transport. Callers hold s.mu.
func (s *SpotifyService) install(ctx context.Context, src oauth2.TokenSource) {
	s.tokenSource = &refreshableTokenSource{source: src, callback: s.onTokenRefresh, logger: s.logger}
	s.api.SetHTTPClient(oauth2.NewClient(ctx, s.tokenSource))
	s.ready = true
}

// ensureClient falls back to the client credentials grant when no session is installed.
func (s *SpotifyService) ensureClient(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return
	}
	ctx = s.tokenContext(ctx)
	s.install(ctx, s.appConfig.TokenSource(ctx))
}

func (s *SpotifyService) get(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	s.ensureClient(ctx)
	return s.api.GetJSON(ctx, op, endpoint, params, out)
}

// Search calls /search. "all" requests tracks and albums; playlists must be asked for.
func (s *SpotifyService) Search(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error) {
	offset, limit = clampPage(offset, limit)
	types := map[models.SearchType]string{
		models.SearchAll:      "track,album",
		models.SearchTrack:    "track",
		models.SearchAlbum:    "album",
		models.SearchPlaylist: "playlist",
	}
	params := url.Values{
		"q":      {query},
		"type":   {lo.ValueOr(types, kind, "track,album")},
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}

	var resp spotifySearchResponse
	if err := s.get(ctx, "search", "/search", params, &resp); err != nil {
		return nil, err
	}

	results := models.NewSearchResults(offset, limit)
	wantTracks, wantAlbums, wantPlaylists := trackKinds(kind)

	if wantTracks && resp.Tracks != nil {
		results.Tracks = keepValid(s.logger, s.ID(), "track", decodeEach(resp.Tracks.Items, s.normalizeTrack))
		results.Total += resp.Tracks.Total
	}
	if wantAlbums && resp.Albums != nil {
		results.Albums = keepValid(s.logger, s.ID(), "album", decodeEach(resp.Albums.Items, s.normalizeAlbum))
		results.Total += resp.Albums.Total
	}
	if wantPlaylists && resp.Playlists != nil {
		results.Playlists = playlistsWithPlaceholders(s.ID(), decodeEach(resp.Playlists.Items, s.normalizePlaylist))
		results.Total += resp.Playlists.Total
	}
	return results, nil
}

// ResolveStreamURL returns the track's preview clip regardless of the requested quality.
func (s *SpotifyService) ResolveStreamURL(ctx context.Context, trackID string, _ models.StreamQuality) (*StreamGrant, error) {
	var raw SpotifyTrack
	if err := s.get(ctx, "resolve", "/tracks/"+url.PathEscape(trackID), nil, &raw); err != nil {
		return nil, err
	}
	if raw.PreviewURL == nil || *raw.PreviewURL == "" {
		return nil, newProviderError(s.ID(), "resolve", KindNotFound, fmt.Errorf("no preview for track %s", trackID))
	}
	return &StreamGrant{URL: *raw.PreviewURL, Quality: previewQuality()}, nil
}

// FetchTrack retrieves a single track by ID.
func (s *SpotifyService) FetchTrack(ctx context.Context, trackID string) (*models.Track, error) {
	var raw SpotifyTrack
	if err := s.get(ctx, "track", "/tracks/"+url.PathEscape(trackID), nil, &raw); err != nil {
		return nil, err
	}
	track, err := s.normalizeTrack(raw)
	if err != nil {
		return nil, newProviderError(s.ID(), "track", KindMalformed, err)
	}
	return &track, nil
}

// FetchAlbum retrieves an album with its first page of tracks.
func (s *SpotifyService) FetchAlbum(ctx context.Context, albumID string) (*models.Album, error) {
	var raw SpotifyAlbum
	if err := s.get(ctx, "album", "/albums/"+url.PathEscape(albumID), nil, &raw); err != nil {
		return nil, err
	}
	album, err := s.normalizeAlbum(raw)
	if err != nil {
		return nil, newProviderError(s.ID(), "album", KindMalformed, err)
	}
	return &album, nil
}

// PlaylistTracks calls /playlists/{id}/tracks. Removed and local items are dropped.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]models.Track, error) {
	offset, limit = clampPage(offset, limit)
	params := url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}

	var page spotifyPage
	if err := s.get(ctx, "playlist", "/playlists/"+url.PathEscape(playlistID)+"/tracks", params, &page); err != nil {
		return nil, err
	}
	return keepValid(s.logger, s.ID(), "track", decodeEach(page.Items, func(item SpotifyPlaylistTrack) (models.Track, error) {
		if item.Track == nil {
			return models.Track{}, errors.New("removed playlist item")
		}
		if item.Track.IsLocal {
			return models.Track{}, fmt.Errorf("local file %q is not streamable", item.Track.Name)
		}
		return s.normalizeTrack(*item.Track)
	})), nil
}

func previewQuality() models.Quality {
	return models.Quality{
		Bitrate:    lo.ToPtr(spotifyPreviewBitrate),
		SampleRate: lo.ToPtr(spotifyPreviewSampleRate),
		Label:      spotifyPreviewLabel,
	}
}

func largestImage(images []SpotifyImage) *string {
	if len(images) == 0 {
		return nil
	}
	best := lo.MaxBy(images, func(a, b SpotifyImage) bool { return a.Width*a.Height > b.Width*b.Height })
	return optionalString(best.URL)
}

func artistNames(artists []SpotifyArtist) []string {
	return lo.Map(artists, func(a SpotifyArtist, _ int) string { return a.Name })
}

func (s *SpotifyService) normalizeTrack(raw SpotifyTrack) (models.Track, error) {
	if raw.ID == "" {
		return models.Track{}, errors.New("track without id")
	}
	if raw.Name == "" {
		return models.Track{}, fmt.Errorf("track %s without name", raw.ID)
	}

	track := models.Track{
		ID:       raw.ID,
		Title:    raw.Name,
		Artist:   joinNames(artistNames(raw.Artists), models.UnknownArtist),
		Album:    models.UnknownAlbum,
		Duration: secondsFromMillis(raw.DurationMS),
		Source:   models.ProviderSpotify,
		Quality:  previewQuality(),
	}
	if raw.Album != nil {
		track.Album = orDefault(raw.Album.Name, models.UnknownAlbum)
		track.CoverURL = largestImage(raw.Album.Images)
	}
	return track, nil
}

func (s *SpotifyService) normalizeAlbum(raw SpotifyAlbum) (models.Album, error) {
	if raw.ID == "" {
		return models.Album{}, errors.New("album without id")
	}

	album := models.Album{
		ID:          raw.ID,
		Title:       orDefault(raw.Name, models.UnknownAlbum),
		Artist:      joinNames(artistNames(raw.Artists), models.UnknownArtist),
		ReleaseDate: optionalString(raw.ReleaseDate),
		CoverURL:    largestImage(raw.Images),
		Tracks:      []models.Track{},
		Source:      models.ProviderSpotify,
	}

	if raw.Tracks != nil {
		// album tracks are simplified and carry no album object
		tracks := keepValid(s.logger, s.ID(), "track", decodeEach(raw.Tracks.Items, s.normalizeTrack))
		for i := range tracks {
			tracks[i].Album = album.Title
			tracks[i].CoverURL = album.CoverURL
		}
		album.Tracks = tracks
	}
	return album, nil
}

func (s *SpotifyService) normalizePlaylist(raw SpotifySimplePlaylist) (models.PlaylistSearchResult, error) {
	if raw.ID == "" {
		return models.PlaylistSearchResult{}, errors.New("playlist without id")
	}
	if raw.Name == "" {
		return models.PlaylistSearchResult{}, fmt.Errorf("playlist %s without name", raw.ID)
	}

	pl := models.PlaylistSearchResult{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: optionalString(raw.Description),
		Owner:       models.UnknownOwner,
		Provider:    models.ProviderSpotify,
		CoverURL:    largestImage(raw.Images),
		TrackCount:  raw.Tracks.Total,
		Public:      lo.FromPtr(raw.Public),
		ExternalURL: optionalString(raw.ExternalURLs.Spotify),
	}
	if raw.Owner != nil {
		pl.Owner = lo.CoalesceOrEmpty(raw.Owner.DisplayName, raw.Owner.ID, models.UnknownOwner)
	}
	return pl, nil
}

// refreshableTokenSource wraps an [oauth2.TokenSource] and reports every new token to callback.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)
	logger   *log.Logger

	mu   sync.Mutex
	last string
}

// Token returns the current token, invoking the callback when the access token changed.
//
// Failures are wrapped with [shared.ErrRefreshFailed].
func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	callback := r.callback
	r.mu.Unlock()

	if changed && callback != nil {
		r.notify(callback, token)
	}
	return token, nil
}

func (r *refreshableTokenSource) setCallback(fn func(*oauth2.Token)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = fn
}

// notify keeps a failing callback from breaking the request that triggered the refresh.
func (r *refreshableTokenSource) notify(fn func(*oauth2.Token), token *oauth2.Token) {
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error("token refresh callback panicked", "panic", rec)
		}
	}()
	fn(token)
}
