// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/services"
)

// MockProvider is a test double for [services.Provider]
//
// Nil funcs fall back to empty results and a deterministic stream URL.
type MockProvider struct {
	ProviderID   models.ProviderID
	Authed       bool
	SearchFunc   func(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error)
	ResolveFunc  func(ctx context.Context, trackID string, quality models.StreamQuality) (*services.StreamGrant, error)
	TrackFunc    func(ctx context.Context, trackID string) (*models.Track, error)
	AlbumFunc    func(ctx context.Context, albumID string) (*models.Album, error)
	PlaylistFunc func(ctx context.Context, playlistID string, offset, limit int) ([]models.Track, error)

	searchCalls  atomic.Int32
	resolveCalls atomic.Int32
	trackCalls   atomic.Int32
}

var _ services.Provider = (*MockProvider)(nil)

func NewMockProvider(id models.ProviderID) *MockProvider {
	return &MockProvider{ProviderID: id}
}

func (m *MockProvider) ID() models.ProviderID { return m.ProviderID }
func (m *MockProvider) Name() string          { return "mock " + string(m.ProviderID) }
func (m *MockProvider) Authenticated() bool   { return m.Authed }

func (m *MockProvider) Search(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error) {
	m.searchCalls.Add(1)
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, kind, offset, limit)
	}
	return models.NewSearchResults(offset, limit), nil
}

func (m *MockProvider) ResolveStreamURL(ctx context.Context, trackID string, quality models.StreamQuality) (*services.StreamGrant, error) {
	m.resolveCalls.Add(1)
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, trackID, quality)
	}
	return &services.StreamGrant{URL: fmt.Sprintf("https://stream.test/%s/%s?q=%s", m.ProviderID, trackID, quality)}, nil
}

func (m *MockProvider) FetchTrack(ctx context.Context, trackID string) (*models.Track, error) {
	m.trackCalls.Add(1)
	if m.TrackFunc != nil {
		return m.TrackFunc(ctx, trackID)
	}
	t := Track(m.ProviderID, trackID)
	return &t, nil
}

func (m *MockProvider) FetchAlbum(ctx context.Context, albumID string) (*models.Album, error) {
	if m.AlbumFunc != nil {
		return m.AlbumFunc(ctx, albumID)
	}
	return &models.Album{ID: albumID, Title: "Album " + albumID, Artist: models.UnknownArtist, Tracks: []models.Track{}, Source: m.ProviderID}, nil
}

func (m *MockProvider) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]models.Track, error) {
	if m.PlaylistFunc != nil {
		return m.PlaylistFunc(ctx, playlistID, offset, limit)
	}
	return []models.Track{}, nil
}

// SearchCalls returns how many times Search was invoked.
func (m *MockProvider) SearchCalls() int { return int(m.searchCalls.Load()) }

// ResolveCalls returns how many times ResolveStreamURL was invoked.
func (m *MockProvider) ResolveCalls() int { return int(m.resolveCalls.Load()) }

// TrackCalls returns how many times FetchTrack was invoked.
func (m *MockProvider) TrackCalls() int { return int(m.trackCalls.Load()) }

// Track builds a minimal normalized track.
func Track(provider models.ProviderID, id string) models.Track {
	return models.Track{
		ID:     id,
		Title:  "Title " + id,
		Artist: "Artist " + id,
		Album:  models.UnknownAlbum,
		Source: provider,
	}
}

// Tracks builds one track per id.
func Tracks(provider models.ProviderID, ids ...string) []models.Track {
	out := make([]models.Track, len(ids))
	for i, id := range ids {
		out[i] = Track(provider, id)
	}
	return out
}

// Results wraps tracks in a search page reporting total.
func Results(total int, tracks ...models.Track) *models.SearchResults {
	r := models.NewSearchResults(0, 20)
	r.Tracks = append(r.Tracks, tracks...)
	r.Total = total
	return r
}

// BlockUntilDone returns a SearchFunc that waits for ctx, simulating a provider that never answers.
func BlockUntilDone() func(ctx context.Context, query string, kind models.SearchType, offset, limit int) (*models.SearchResults, error) {
	return func(ctx context.Context, _ string, _ models.SearchType, _, _ int) (*models.SearchResults, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Clock is a manually advanced time source.
//
// Now reports times in the location of the start time.
type Clock struct {
	now atomic.Int64
	loc *time.Location
}

func NewClock(start time.Time) *Clock {
	c := &Clock{loc: start.Location()}
	c.now.Store(start.UnixNano())
	return c
}

func (c *Clock) Now() time.Time { return time.Unix(0, c.now.Load()).In(c.loc) }

func (c *Clock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Not a directory: %s", path)
	}
}
