// Qobuz API implementation of [Provider]
//
// Hi-fi lossless catalog. Stream URLs come from track/getFileUrl, which requires an MD5 request signature.
package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/samber/lo"
)

const qobuzBaseURL = "https://www.qobuz.com/api.json/0.2"

// Qobuz format ids.
const (
	qobuzFormatMP3      = 5
	qobuzFormatLossless = 6
	qobuzFormatHiRes    = 27
)

// qobuzID accepts ids encoded either as JSON numbers or strings.
type qobuzID string

func (id *qobuzID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = qobuzID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("qobuz id must be a number or string: %w", err)
	}
	*id = qobuzID(n.String())
	return nil
}

// QobuzImage holds the sized cover variants Qobuz returns.
type QobuzImage struct {
	Thumbnail string `json:"thumbnail"`
	Small     string `json:"small"`
	Large     string `json:"large"`
}

func (i *QobuzImage) best() *string {
	if i == nil {
		return nil
	}
	return optionalString(lo.CoalesceOrEmpty(i.Large, i.Small, i.Thumbnail))
}

type qobuzNamed struct {
	ID   qobuzID `json:"id"`
	Name string  `json:"name"`
}

// QobuzTrack represents a Qobuz track payload.
type QobuzTrack struct {
	ID                  qobuzID     `json:"id"`
	Title               string      `json:"title"`
	Version             string      `json:"version"`
	Duration            int         `json:"duration"`
	Performer           *qobuzNamed `json:"performer"`
	Album               *QobuzAlbum `json:"album"`
	MaximumBitDepth     int         `json:"maximum_bit_depth"`
	MaximumSamplingRate float64     `json:"maximum_sampling_rate"` // kHz
	Streamable          *bool       `json:"streamable"`
}

// QobuzAlbum represents a Qobuz album payload.
type QobuzAlbum struct {
	ID                  qobuzID     `json:"id"`
	Title               string      `json:"title"`
	Artist              *qobuzNamed `json:"artist"`
	Image               *QobuzImage `json:"image"`
	ReleaseDateOriginal string      `json:"release_date_original"`
	MaximumBitDepth     int         `json:"maximum_bit_depth"`
	MaximumSamplingRate float64     `json:"maximum_sampling_rate"`
	Tracks              *qobuzPage  `json:"tracks"`
}

// QobuzPlaylist represents a Qobuz playlist payload.
type QobuzPlaylist struct {
	ID          qobuzID     `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Owner       *qobuzNamed `json:"owner"`
	TracksCount int         `json:"tracks_count"`
	IsPublic    bool        `json:"is_public"`
	Images300   []string    `json:"images300"`
	Tracks      *qobuzPage  `json:"tracks"`
}

type qobuzPage struct {
	Items  []json.RawMessage `json:"items"`
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

type qobuzSearchResponse struct {
	Tracks    *qobuzPage `json:"tracks"`
	Albums    *qobuzPage `json:"albums"`
	Playlists *qobuzPage `json:"playlists"`
}

type qobuzFileURL struct {
	TrackID      qobuzID `json:"track_id"`
	URL          string  `json:"url"`
	FormatID     int     `json:"format_id"`
	MimeType     string  `json:"mime_type"`
	SamplingRate float64 `json:"sampling_rate"` // kHz
	BitDepth     int     `json:"bit_depth"`
	Sample       bool    `json:"sample"`
}

// QobuzService implements [Provider] for the Qobuz catalog.
type QobuzService struct {
	adapter
	appID     string
	appSecret string
	userToken string
	now       func() time.Time
}

var _ Provider = (*QobuzService)(nil)

// NewQobuzService creates a Qobuz adapter. Expects "app_id" and "app_secret"; "user_auth_token" is optional.
//
// An optional "base_url" overrides the API root.
func NewQobuzService(credentials map[string]string, client *http.Client, rps float64) (*QobuzService, error) {
	appID := credentials["app_id"]
	if appID == "" {
		return nil, fmt.Errorf("%w: missing app_id", shared.ErrMissingCredentials)
	}
	secret := credentials["app_secret"]
	if secret == "" {
		return nil, fmt.Errorf("%w: missing app_secret", shared.ErrMissingCredentials)
	}

	baseURL := lo.CoalesceOrEmpty(credentials["base_url"], qobuzBaseURL)
	api := NewAPIClient(models.ProviderQobuz, baseURL, client, rps)
	api.SetHeader("X-App-Id", appID)

	q := &QobuzService{
		adapter:   adapter{api: api, logger: log.Default()},
		appID:     appID,
		appSecret: secret,
		now:       time.Now,
	}
	if token := credentials["user_auth_token"]; token != "" {
		q.setUserToken(token)
	}
	return q, nil
}

func (q *QobuzService) ID() models.ProviderID { return models.ProviderQobuz }
func (q *QobuzService) Name() string          { return "Qobuz" }
func (q *QobuzService) Authenticated() bool   { return q.userToken != "" }

// Authenticate stores a user session token. Expects credentials["user_auth_token"].
func (q *QobuzService) Authenticate(_ context.Context, credentials map[string]string) error {
	token := credentials["user_auth_token"]
	if token == "" {
		return fmt.Errorf("%w: missing user_auth_token", shared.ErrMissingCredentials)
	}
	q.setUserToken(token)
	return nil
}

func (q *QobuzService) setUserToken(token string) {
	q.userToken = token
	q.api.SetHeader("X-User-Auth-Token", token)
}

func (q *QobuzService) get(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("app_id", q.appID)
	return q.api.GetJSON(ctx, op, "/"+endpoint, params, out)
}

// Search calls catalog/search, narrowing with type= when a single kind is requested.
func (q *QobuzService) Search(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error) {
	offset, limit = clampPage(offset, limit)
	params := url.Values{
		"query":  {query},
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
	switch kind {
	case models.SearchTrack:
		params.Set("type", "tracks")
	case models.SearchAlbum:
		params.Set("type", "albums")
	case models.SearchPlaylist:
		params.Set("type", "playlists")
	}

	var resp qobuzSearchResponse
	if err := q.get(ctx, "search", "catalog/search", params, &resp); err != nil {
		return nil, err
	}

	results := models.NewSearchResults(offset, limit)
	wantTracks, wantAlbums, wantPlaylists := trackKinds(kind)

	if wantTracks && resp.Tracks != nil {
		results.Tracks = keepValid(q.logger, q.ID(), "track", decodeEach(resp.Tracks.Items, q.normalizeTrack))
		results.Total += resp.Tracks.Total
	}
	if wantAlbums && resp.Albums != nil {
		results.Albums = keepValid(q.logger, q.ID(), "album", decodeEach(resp.Albums.Items, q.normalizeAlbum))
		results.Total += resp.Albums.Total
	}
	if wantPlaylists && resp.Playlists != nil {
		results.Playlists = playlistsWithPlaceholders(q.ID(), decodeEach(resp.Playlists.Items, q.normalizePlaylist))
		results.Total += resp.Playlists.Total
	}
	return results, nil
}

// ResolveStreamURL calls track/getFileUrl with a signed request.
//
// Unauthenticated sessions and lossy or preview requests are served as MP3 320.
func (q *QobuzService) ResolveStreamURL(ctx context.Context, trackID string, quality models.StreamQuality) (*StreamGrant, error) {
	formatID := q.formatFor(quality)
	ts := strconv.FormatInt(q.now().Unix(), 10)

	params := url.Values{
		"track_id":    {trackID},
		"format_id":   {strconv.Itoa(formatID)},
		"intent":      {"stream"},
		"request_ts":  {ts},
		"request_sig": {q.sign(trackID, formatID, ts)},
	}

	var file qobuzFileURL
	if err := q.get(ctx, "resolve", "track/getFileUrl", params, &file); err != nil {
		return nil, err
	}
	if file.URL == "" {
		return nil, newProviderError(q.ID(), "resolve", KindNotFound, fmt.Errorf("no stream url for track %s", trackID))
	}

	sampleRate := optionalPositive(int(file.SamplingRate * 1000))
	bitDepth := optionalPositive(file.BitDepth)
	grant := &StreamGrant{
		URL:       file.URL,
		ExpiresAt: expiryFromURL(file.URL, "etsp"),
		Quality: models.Quality{
			SampleRate: sampleRate,
			BitDepth:   bitDepth,
			Bitrate:    pcmBitrate(sampleRate, bitDepth),
			Label:      file.MimeType,
		},
	}
	if file.FormatID == qobuzFormatMP3 {
		grant.Quality = models.Quality{Bitrate: lo.ToPtr(320), Label: "MP3 320"}
	}
	return grant, nil
}

// FetchTrack calls track/get.
func (q *QobuzService) FetchTrack(ctx context.Context, trackID string) (*models.Track, error) {
	var raw QobuzTrack
	if err := q.get(ctx, "track", "track/get", url.Values{"track_id": {trackID}}, &raw); err != nil {
		return nil, err
	}
	track, err := q.normalizeTrack(raw)
	if err != nil {
		return nil, newProviderError(q.ID(), "track", KindMalformed, err)
	}
	return &track, nil
}

// FetchAlbum calls album/get, which embeds the album's tracks.
func (q *QobuzService) FetchAlbum(ctx context.Context, albumID string) (*models.Album, error) {
	var raw QobuzAlbum
	if err := q.get(ctx, "album", "album/get", url.Values{"album_id": {albumID}}, &raw); err != nil {
		return nil, err
	}
	album, err := q.normalizeAlbum(raw)
	if err != nil {
		return nil, newProviderError(q.ID(), "album", KindMalformed, err)
	}
	return &album, nil
}

// PlaylistTracks calls playlist/get with extra=tracks.
func (q *QobuzService) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]models.Track, error) {
	offset, limit = clampPage(offset, limit)
	params := url.Values{
		"playlist_id": {playlistID},
		"extra":       {"tracks"},
		"offset":      {strconv.Itoa(offset)},
		"limit":       {strconv.Itoa(limit)},
	}

	var raw QobuzPlaylist
	if err := q.get(ctx, "playlist", "playlist/get", params, &raw); err != nil {
		return nil, err
	}
	if raw.Tracks == nil {
		return []models.Track{}, nil
	}
	return keepValid(q.logger, q.ID(), "track", decodeEach(raw.Tracks.Items, q.normalizeTrack)), nil
}

func (q *QobuzService) formatFor(quality models.StreamQuality) int {
	if !q.Authenticated() {
		return qobuzFormatMP3
	}
	switch quality {
	case models.QualityHiRes:
		return qobuzFormatHiRes
	case models.QualityLossy, models.QualityPreview:
		return qobuzFormatMP3
	default:
		return qobuzFormatLossless
	}
}

// sign computes request_sig for track/getFileUrl.
func (q *QobuzService) sign(trackID string, formatID int, ts string) string {
	payload := fmt.Sprintf("trackgetFileUrlformat_id%dintentstreamtrack_id%s%s%s", formatID, trackID, ts, q.appSecret)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// quality reports facets for a catalog entry. Unauthenticated sessions only get MP3 320.
func (q *QobuzService) quality(bitDepth int, samplingKHz float64) models.Quality {
	if !q.Authenticated() {
		return models.Quality{Bitrate: lo.ToPtr(320), Label: "MP3 320"}
	}
	sampleRate := optionalPositive(int(samplingKHz * 1000))
	depth := optionalPositive(bitDepth)
	label := "CD"
	if depth != nil && *depth > 16 {
		label = "Hi-Res"
	}
	return models.Quality{
		Bitrate:    pcmBitrate(sampleRate, depth),
		SampleRate: sampleRate,
		BitDepth:   depth,
		Label:      label,
	}
}

func (q *QobuzService) normalizeTrack(raw QobuzTrack) (models.Track, error) {
	if raw.ID == "" {
		return models.Track{}, errors.New("track without id")
	}
	if raw.Title == "" {
		return models.Track{}, fmt.Errorf("track %s without title", raw.ID)
	}

	title := raw.Title
	if raw.Version != "" {
		title = fmt.Sprintf("%s (%s)", raw.Title, raw.Version)
	}

	track := models.Track{
		ID:       string(raw.ID),
		Title:    title,
		Artist:   models.UnknownArtist,
		Album:    models.UnknownAlbum,
		Duration: optionalPositive(raw.Duration),
		Source:   models.ProviderQobuz,
		Quality:  q.quality(raw.MaximumBitDepth, raw.MaximumSamplingRate),
	}
	if raw.Performer != nil {
		track.Artist = orDefault(raw.Performer.Name, models.UnknownArtist)
	}
	if raw.Album != nil {
		track.Album = orDefault(raw.Album.Title, models.UnknownAlbum)
		track.CoverURL = raw.Album.Image.best()
		if track.Artist == models.UnknownArtist && raw.Album.Artist != nil {
			track.Artist = orDefault(raw.Album.Artist.Name, models.UnknownArtist)
		}
	}
	return track, nil
}

func (q *QobuzService) normalizeAlbum(raw QobuzAlbum) (models.Album, error) {
	if raw.ID == "" {
		return models.Album{}, errors.New("album without id")
	}

	album := models.Album{
		ID:          string(raw.ID),
		Title:       orDefault(raw.Title, models.UnknownAlbum),
		Artist:      models.UnknownArtist,
		ReleaseDate: optionalString(raw.ReleaseDateOriginal),
		CoverURL:    raw.Image.best(),
		Tracks:      []models.Track{},
		Source:      models.ProviderQobuz,
	}
	if raw.Artist != nil {
		album.Artist = orDefault(raw.Artist.Name, models.UnknownArtist)
	}

	if raw.Tracks != nil {
		tracks := keepValid(q.logger, q.ID(), "track", decodeEach(raw.Tracks.Items, q.normalizeTrack))
		for i := range tracks {
			// album/get omits the album object on nested tracks
			if tracks[i].Album == models.UnknownAlbum {
				tracks[i].Album = album.Title
			}
			if tracks[i].CoverURL == nil {
				tracks[i].CoverURL = album.CoverURL
			}
			if tracks[i].Artist == models.UnknownArtist {
				tracks[i].Artist = album.Artist
			}
		}
		album.Tracks = tracks
	}
	return album, nil
}

func (q *QobuzService) normalizePlaylist(raw QobuzPlaylist) (models.PlaylistSearchResult, error) {
	if raw.ID == "" {
		return models.PlaylistSearchResult{}, errors.New("playlist without id")
	}
	if raw.Name == "" {
		return models.PlaylistSearchResult{}, fmt.Errorf("playlist %s without name", raw.ID)
	}

	pl := models.PlaylistSearchResult{
		ID:          string(raw.ID),
		Name:        raw.Name,
		Description: optionalString(raw.Description),
		Owner:       models.UnknownOwner,
		Provider:    models.ProviderQobuz,
		TrackCount:  raw.TracksCount,
		Public:      raw.IsPublic,
		ExternalURL: lo.ToPtr(fmt.Sprintf("https://play.qobuz.com/playlist/%s", raw.ID)),
	}
	if raw.Owner != nil {
		pl.Owner = orDefault(raw.Owner.Name, models.UnknownOwner)
	}
	if len(raw.Images300) > 0 {
		pl.CoverURL = optionalString(raw.Images300[0])
	}
	return pl, nil
}
