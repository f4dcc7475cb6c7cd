package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
)

func newTestQobuz(t *testing.T, handler http.HandlerFunc, userToken string) *QobuzService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := NewQobuzService(map[string]string{
		"app_id":          "app123",
		"app_secret":      "secret",
		"user_auth_token": userToken,
		"base_url":        server.URL,
	}, nil, 0)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	svc.SetLogger(shared.NewLogger(io.Discard))
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc
}

var qobuzTrackPayload = map[string]any{
	"id":                    12345,
	"title":                 "So What",
	"version":               "Remastered",
	"duration":              562,
	"performer":             map[string]any{"id": 1, "name": "Miles Davis"},
	"album":                 map[string]any{"id": "alb1", "title": "Kind of Blue", "image": map[string]any{"large": "https://img/large.jpg"}},
	"maximum_bit_depth":     24,
	"maximum_sampling_rate": 96,
}

func TestQobuzService(t *testing.T) {
	t.Run("NewQobuzService", func(t *testing.T) {
		t.Run("Missing App ID", func(t *testing.T) {
			_, err := NewQobuzService(map[string]string{"app_secret": "s"}, nil, 0)
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected missing credentials error, got %v", err)
			}
		})

		t.Run("Missing App Secret", func(t *testing.T) {
			_, err := NewQobuzService(map[string]string{"app_id": "a"}, nil, 0)
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected missing credentials error, got %v", err)
			}
		})

		t.Run("Defaults", func(t *testing.T) {
			svc, err := NewQobuzService(map[string]string{"app_id": "a", "app_secret": "s"}, nil, 0)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if svc.api.BaseURL() != qobuzBaseURL {
				t.Errorf("expected base URL %s, got %s", qobuzBaseURL, svc.api.BaseURL())
			}
			if svc.Authenticated() {
				t.Error("expected unauthenticated service without a user token")
			}
			if svc.ID() != models.ProviderQobuz || svc.Name() != "Qobuz" {
				t.Errorf("unexpected identity %s/%s", svc.ID(), svc.Name())
			}
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		svc, _ := NewQobuzService(map[string]string{"app_id": "a", "app_secret": "s"}, nil, 0)

		if err := svc.Authenticate(context.Background(), map[string]string{}); err == nil {
			t.Error("expected error for missing user_auth_token")
		}
		if err := svc.Authenticate(context.Background(), map[string]string{"user_auth_token": "tok"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !svc.Authenticated() {
			t.Error("expected service to be authenticated")
		}
	})

	t.Run("Search", func(t *testing.T) {
		t.Run("Tracks", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/catalog/search" {
					t.Errorf("expected path /catalog/search, got %s", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("app_id") != "app123" {
					t.Errorf("expected app_id param, got %q", q.Get("app_id"))
				}
				if q.Get("type") != "tracks" {
					t.Errorf("expected type=tracks, got %q", q.Get("type"))
				}
				if q.Get("query") != "miles" || q.Get("limit") != "2" || q.Get("offset") != "4" {
					t.Errorf("unexpected query %v", q)
				}
				if r.Header.Get("X-App-Id") != "app123" {
					t.Errorf("expected X-App-Id header")
				}
				if r.Header.Get("X-User-Auth-Token") != "user-token" {
					t.Errorf("expected X-User-Auth-Token header")
				}

				json.NewEncoder(w).Encode(map[string]any{
					"tracks": map[string]any{
						"total": 40,
						"items": []any{qobuzTrackPayload, nil, map[string]any{"id": "77"}},
					},
				})
			}, "user-token")

			results, err := svc.Search(context.Background(), "miles", models.SearchTrack, 4, 2)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if results.Total != 40 {
				t.Errorf("expected total 40, got %d", results.Total)
			}
			if len(results.Tracks) != 1 {
				t.Fatalf("expected malformed items to be dropped, got %d tracks", len(results.Tracks))
			}

			track := results.Tracks[0]
			if track.ID != "12345" {
				t.Errorf("expected numeric id to become '12345', got %s", track.ID)
			}
			if track.Title != "So What (Remastered)" {
				t.Errorf("expected version in title, got %s", track.Title)
			}
			if track.Artist != "Miles Davis" || track.Album != "Kind of Blue" {
				t.Errorf("unexpected artist/album %s/%s", track.Artist, track.Album)
			}
			if track.Duration == nil || *track.Duration != 562 {
				t.Errorf("expected duration 562, got %v", track.Duration)
			}
			if track.CoverURL == nil || *track.CoverURL != "https://img/large.jpg" {
				t.Errorf("expected large cover, got %v", track.CoverURL)
			}
			if track.Quality.SampleRate == nil || *track.Quality.SampleRate != 96000 {
				t.Errorf("expected 96000 Hz, got %v", track.Quality.SampleRate)
			}
			if track.Quality.BitDepth == nil || *track.Quality.BitDepth != 24 {
				t.Errorf("expected 24-bit, got %v", track.Quality.BitDepth)
			}
			if track.Quality.Bitrate == nil || *track.Quality.Bitrate != 4608 {
				t.Errorf("expected 4608 kbps, got %v", track.Quality.Bitrate)
			}
		})

		t.Run("Unauthenticated Quality Is Capped", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"tracks": map[string]any{"total": 1, "items": []any{qobuzTrackPayload}},
					"albums": map[string]any{"total": 0, "items": []any{}},
				})
			}, "")

			results, err := svc.Search(context.Background(), "miles", models.SearchAll, 0, 10)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			q := results.Tracks[0].Quality
			if q.Bitrate == nil || *q.Bitrate != 320 || q.SampleRate != nil || q.Label != "MP3 320" {
				t.Errorf("expected MP3 320 quality, got %+v", q)
			}
		})

		t.Run("Playlists With Placeholder", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("type") != "playlists" {
					t.Errorf("expected type=playlists, got %q", r.URL.Query().Get("type"))
				}
				json.NewEncoder(w).Encode(map[string]any{
					"playlists": map[string]any{
						"total": 2,
						"items": []any{
							map[string]any{"id": 9, "name": "Jazz Essentials", "owner": map[string]any{"name": "Qobuz"}, "tracks_count": 50, "is_public": true},
							map[string]any{"id": 10},
						},
					},
				})
			}, "")

			results, err := svc.Search(context.Background(), "jazz", models.SearchPlaylist, 0, 10)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(results.Playlists) != 2 {
				t.Fatalf("expected 2 playlists, got %d", len(results.Playlists))
			}
			if results.Playlists[0].Name != "Jazz Essentials" || results.Playlists[0].TrackCount != 50 {
				t.Errorf("unexpected playlist %+v", results.Playlists[0])
			}
			if !results.Playlists[1].Placeholder || results.Playlists[1].ID != "qobuz:invalid:1" {
				t.Errorf("expected placeholder, got %+v", results.Playlists[1])
			}
			if len(results.Tracks) != 0 {
				t.Errorf("expected no tracks for a playlist search, got %d", len(results.Tracks))
			}
		})
	})

	t.Run("ResolveStreamURL", func(t *testing.T) {
		t.Run("Signs Request", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/track/getFileUrl" {
					t.Errorf("expected path /track/getFileUrl, got %s", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("format_id") != "27" {
					t.Errorf("expected hi-res format 27, got %s", q.Get("format_id"))
				}
				if q.Get("request_ts") != "1700000000" {
					t.Errorf("expected request_ts 1700000000, got %s", q.Get("request_ts"))
				}

				sum := md5.Sum([]byte("trackgetFileUrlformat_id27intentstreamtrack_id12345" + "1700000000" + "secret"))
				if q.Get("request_sig") != hex.EncodeToString(sum[:]) {
					t.Errorf("unexpected request_sig %s", q.Get("request_sig"))
				}

				json.NewEncoder(w).Encode(map[string]any{
					"track_id":      12345,
					"url":           "https://streaming.qobuz.com/file?etsp=1700001800&uid=1",
					"format_id":     27,
					"mime_type":     "audio/flac",
					"sampling_rate": 96,
					"bit_depth":     24,
				})
			}, "user-token")

			grant, err := svc.ResolveStreamURL(context.Background(), "12345", models.QualityHiRes)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !grant.ExpiresAt.Equal(time.Unix(1700001800, 0)) {
				t.Errorf("expected expiry from etsp, got %v", grant.ExpiresAt)
			}
			if grant.Quality.BitDepth == nil || *grant.Quality.BitDepth != 24 {
				t.Errorf("expected 24-bit grant, got %+v", grant.Quality)
			}
		})

		t.Run("Format Selection", func(t *testing.T) {
			authed, _ := NewQobuzService(map[string]string{"app_id": "a", "app_secret": "s", "user_auth_token": "t"}, nil, 0)
			anon, _ := NewQobuzService(map[string]string{"app_id": "a", "app_secret": "s"}, nil, 0)

			tests := []struct {
				svc     *QobuzService
				quality models.StreamQuality
				want    int
			}{
				{authed, models.QualityHiRes, 27},
				{authed, models.QualityLossless, 6},
				{authed, models.QualityLossy, 5},
				{authed, models.QualityPreview, 5},
				{anon, models.QualityHiRes, 5},
				{anon, models.QualityLossless, 5},
			}
			for _, tt := range tests {
				if got := tt.svc.formatFor(tt.quality); got != tt.want {
					t.Errorf("%s (authenticated=%v): expected %d, got %d", tt.quality, tt.svc.Authenticated(), tt.want, got)
				}
			}
		})

		t.Run("Missing URL Is Not Found", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"track_id": 1, "format_id": 5})
			}, "")

			_, err := svc.ResolveStreamURL(context.Background(), "1", models.QualityLossless)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected not found, got %v", err)
			}
		})

		t.Run("MP3 Grant", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"url": "https://streaming.qobuz.com/file.mp3", "format_id": 5})
			}, "")

			grant, err := svc.ResolveStreamURL(context.Background(), "1", models.QualityLossless)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !grant.ExpiresAt.IsZero() {
				t.Errorf("expected no declared expiry, got %v", grant.ExpiresAt)
			}
			if grant.Quality.Label != "MP3 320" {
				t.Errorf("expected MP3 320 label, got %s", grant.Quality.Label)
			}
		})

		t.Run("Invalid Signature Is Network", func(t *testing.T) {
			svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"status":"error","code":400,"message":"Invalid Request Signature parameter (request_sig)"}`))
			}, "")

			_, err := svc.ResolveStreamURL(context.Background(), "1", models.QualityLossless)
			if kind, _ := KindOf(err); kind != KindNetwork {
				t.Errorf("expected network kind, got %v", err)
			}
		})
	})

	t.Run("FetchAlbum", func(t *testing.T) {
		svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("album_id") != "alb1" {
				t.Errorf("expected album_id alb1, got %s", r.URL.Query().Get("album_id"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id":                    "alb1",
				"title":                 "Kind of Blue",
				"artist":                map[string]any{"name": "Miles Davis"},
				"image":                 map[string]any{"small": "https://img/small.jpg"},
				"release_date_original": "1959-08-17",
				"tracks": map[string]any{
					"total": 2,
					"items": []any{
						map[string]any{"id": 1, "title": "So What", "duration": 562},
						map[string]any{"id": 2, "title": "Freddie Freeloader", "duration": 589},
					},
				},
			})
		}, "user-token")

		album, err := svc.FetchAlbum(context.Background(), "alb1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if album.Title != "Kind of Blue" || album.Artist != "Miles Davis" {
			t.Errorf("unexpected album %s by %s", album.Title, album.Artist)
		}
		if len(album.Tracks) != 2 {
			t.Fatalf("expected 2 tracks, got %d", len(album.Tracks))
		}
		for _, tr := range album.Tracks {
			if tr.Album != "Kind of Blue" || tr.Artist != "Miles Davis" {
				t.Errorf("expected nested track to inherit album fields, got %s/%s", tr.Album, tr.Artist)
			}
			if tr.CoverURL == nil || *tr.CoverURL != "https://img/small.jpg" {
				t.Errorf("expected nested track to inherit cover, got %v", tr.CoverURL)
			}
		}
	})

	t.Run("PlaylistTracks", func(t *testing.T) {
		svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("extra") != "tracks" || q.Get("playlist_id") != "9" {
				t.Errorf("unexpected query %v", q)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id":   9,
				"name": "Jazz Essentials",
				"tracks": map[string]any{
					"items": []any{qobuzTrackPayload, "not an object"},
				},
			})
		}, "")

		tracks, err := svc.PlaylistTracks(context.Background(), "9", 0, 10)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(tracks) != 1 || tracks[0].ID != strconv.Itoa(12345) {
			t.Errorf("expected one valid track, got %+v", tracks)
		}
	})

	t.Run("FetchTrack Not Found", func(t *testing.T) {
		svc := newTestQobuz(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":"error","code":404,"message":"No result matching given argument"}`))
		}, "")

		_, err := svc.FetchTrack(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}
