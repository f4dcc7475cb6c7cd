package formatter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	th "github.com/desertthunder/sonar/internal/testing"
)

func ptr[T any](v T) *T { return &v }

func testExport() *Export {
	return &Export{
		ID:          "test123",
		Title:       "Test Album",
		Description: "Artist One",
		Source:      models.SourceRef{Kind: models.SourceAlbum, ID: "test123", Provider: models.ProviderQobuz},
		Providers:   []string{"Qobuz"},
		Tracks: []models.Track{
			{
				ID:       "track1",
				Title:    "Song One",
				Artist:   "Artist One",
				Album:    "Album One",
				Duration: ptr(180),
				Source:   models.ProviderQobuz,
				Quality:  models.Quality{Bitrate: ptr(1411), SampleRate: ptr(44100), BitDepth: ptr(16)},
			},
			{
				ID:      "track2",
				Title:   "Song Two",
				Artist:  "Artist Two",
				Album:   models.UnknownAlbum,
				Source:  models.ProviderQobuz,
				Quality: models.Quality{Label: "preview"},
			},
		},
	}
}

func TestFormatQuality(t *testing.T) {
	tc := []struct {
		name    string
		quality models.Quality
		want    string
	}{
		{"all facets", models.Quality{Bitrate: ptr(1411), SampleRate: ptr(44100), BitDepth: ptr(16)}, "1411 kbps · 44.1 kHz · 16-bit"},
		{"hi-res", models.Quality{SampleRate: ptr(96000), BitDepth: ptr(24)}, "96 kHz · 24-bit"},
		{"bitrate only", models.Quality{Bitrate: ptr(320)}, "320 kbps"},
		{"label fallback", models.Quality{Label: "preview"}, "preview"},
		{"facets win over label", models.Quality{Bitrate: ptr(256), Label: "high"}, "256 kbps"},
		{"nothing reported", models.Quality{}, "Unknown"},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatQuality(tt.quality); got != tt.want {
				t.Errorf("FormatQuality() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tc := []struct {
		seconds *int
		want    string
	}{
		{nil, "--:--"},
		{ptr(-1), "--:--"},
		{ptr(0), "0:00"},
		{ptr(65), "1:05"},
		{ptr(600), "10:00"},
		{ptr(3725), "1:02:05"},
	}
	for _, tt := range tc {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFormatSampleRate(t *testing.T) {
	if got := FormatSampleRate(48000); got != "48 kHz" {
		t.Errorf("FormatSampleRate(48000) = %q", got)
	}
	if got := FormatSampleRate(88200); got != "88.2 kHz" {
		t.Errorf("FormatSampleRate(88200) = %q", got)
	}
}

func TestTrackLine(t *testing.T) {
	export := testExport()
	if got := TrackLine(export.Tracks[0]); got != "Artist One - Song One (Album One) [3:00]" {
		t.Errorf("TrackLine() = %q", got)
	}
	if got := TrackLine(export.Tracks[1]); got != "Artist Two - Song Two [--:--]" {
		t.Errorf("TrackLine() without album = %q", got)
	}
}

func TestBuilders(t *testing.T) {
	t.Run("ExportFromResults", func(t *testing.T) {
		res := th.Results(40, th.Tracks(models.ProviderSpotify, "a", "b")...)
		res.Providers = []models.ProviderID{models.ProviderSpotify, models.ProviderYouTube}

		export := ExportFromResults("  Daft Punk!  ", res)
		if export.ID != "daft-punk" {
			t.Errorf("ID = %q, want daft-punk", export.ID)
		}
		if export.Source.Kind != models.SourceSearch {
			t.Errorf("Source.Kind = %q", export.Source.Kind)
		}
		if len(export.Tracks) != 2 {
			t.Errorf("expected 2 tracks, got %d", len(export.Tracks))
		}
		if strings.Join(export.Providers, ",") != "Spotify,YouTube Music" {
			t.Errorf("Providers = %v", export.Providers)
		}
	})

	t.Run("ExportFromAlbum", func(t *testing.T) {
		album := &models.Album{
			ID:       "alb-1",
			Title:    "Discovery",
			Artist:   "Daft Punk",
			CoverURL: ptr("https://img/cover.jpg"),
			Tracks:   th.Tracks(models.ProviderQobuz, "a"),
			Source:   models.ProviderQobuz,
		}
		export := ExportFromAlbum(album)
		if export.CoverURL != "https://img/cover.jpg" {
			t.Errorf("CoverURL = %q", export.CoverURL)
		}
		if export.Source.Provider != models.ProviderQobuz || export.Source.ID != "alb-1" {
			t.Errorf("Source = %+v", export.Source)
		}
	})

	t.Run("ExportFromQueue", func(t *testing.T) {
		q := queue.New(queue.Options{})
		st := q.Load(queue.LoadRequest{
			Tracks:   append(th.Tracks(models.ProviderQobuz, "a", "b"), th.Track(models.ProviderYouTube, "c")),
			LoopMode: models.LoopInfinite,
		})

		export := ExportFromQueue(st)
		if export.ID != st.ID {
			t.Errorf("ID = %q, want %q", export.ID, st.ID)
		}
		if export.Title != "Queue (normal, infinite)" {
			t.Errorf("Title = %q", export.Title)
		}
		if len(export.Providers) != 2 {
			t.Errorf("expected 2 distinct providers, got %v", export.Providers)
		}

		empty := ExportFromQueue(queue.State{})
		if empty.ID != "queue" {
			t.Errorf("empty queue ID = %q", empty.ID)
		}
	})
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "Provider,ID,Title,Artist,Album,Duration,Quality") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "qobuz,track1,Song One,Artist One,Album One,180,1411 kbps · 44.1 kHz · 16-bit") {
			t.Errorf("CSV missing track1 row, got: %s", output)
		}
		if !strings.Contains(output, "qobuz,track2,Song Two,Artist Two,Unknown Album,,preview") {
			t.Errorf("CSV should leave an unknown duration blank, got: %s", output)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		t.Run("without cover image", func(t *testing.T) {
			data, err := ExportToMarkdown(testExport(), "")
			if err != nil {
				t.Fatalf("ExportToMarkdown failed: %v", err)
			}

			output := string(data)

			if !strings.Contains(output, "# Test Album") {
				t.Errorf("Markdown missing title")
			}
			if strings.Contains(output, "![Cover]") {
				t.Errorf("Markdown should not reference a cover")
			}
			if !strings.Contains(output, "**Tracks**: 2") {
				t.Errorf("Markdown missing track count")
			}
			if !strings.Contains(output, "**Providers**: Qobuz") {
				t.Errorf("Markdown missing providers")
			}
			if !strings.Contains(output, "1. Artist One - Song One (Album One) [3:00] · Qobuz · 1411 kbps · 44.1 kHz · 16-bit") {
				t.Errorf("Markdown missing track line, got: %s", output)
			}
		})

		t.Run("with cover image", func(t *testing.T) {
			data, err := ExportToMarkdown(testExport(), "cover.jpg")
			if err != nil {
				t.Fatalf("ExportToMarkdown failed: %v", err)
			}
			if !strings.Contains(string(data), "![Cover](cover.jpg)") {
				t.Errorf("Markdown missing cover image reference")
			}
		})
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)

		if !strings.HasPrefix(output, "Test Album\n") {
			t.Errorf("Text should start with the title, got: %s", output)
		}
		if !strings.Contains(output, "1. Artist One - Song One") {
			t.Errorf("Text missing track 1")
		}
		if !strings.Contains(output, "2. Artist Two - Song Two") {
			t.Errorf("Text missing track 2")
		}
	})

	t.Run("Render", func(t *testing.T) {
		tc := []struct {
			format string
			want   string
		}{
			{"csv", "Provider,ID"},
			{"markdown", "# Test Album"},
			{"md", "## Tracks"},
			{"txt", "Tracks: 2"},
			{"json", `"title": "Test Album"`},
			{"", `"id": "test123"`},
		}
		for _, tt := range tc {
			var buf bytes.Buffer
			if err := Render(&buf, testExport(), tt.format); err != nil {
				t.Fatalf("Render(%q) failed: %v", tt.format, err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Render(%q) missing %q, got: %s", tt.format, tt.want, buf.String())
			}
		}
	})
}

func TestDownloadImage(t *testing.T) {
	t.Run("EmptyURL", func(t *testing.T) {
		if _, err := DownloadImage(""); err == nil {
			t.Error("Expected error for empty URL")
		}
	})

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("jpeg-bytes"))
		}))
		defer srv.Close()

		data, err := DownloadImage(srv.URL)
		if err != nil {
			t.Fatalf("DownloadImage failed: %v", err)
		}
		if string(data) != "jpeg-bytes" {
			t.Errorf("unexpected body %q", data)
		}
	})

	t.Run("BadStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		if _, err := DownloadImage(srv.URL); err == nil || !strings.Contains(err.Error(), "status 404") {
			t.Errorf("expected status error, got %v", err)
		}
	})
}

func TestWriters(t *testing.T) {
	t.Run("WriteCSVExport", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			result, err := WriteCSVExport(testExport(), "")
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}

			if result.TracksFile != "test123_tracks.csv" {
				t.Errorf("TracksFile = %q", result.TracksFile)
			}

			th.AssertFileExists(t, result.TracksFile)
			th.AssertFileExists(t, result.MetadataFile)

			csvContent := th.MustReadFile(t, result.TracksFile)
			if !strings.Contains(csvContent, "Song One") {
				t.Errorf("CSV file missing track data")
			}

			var meta Export
			if err := json.Unmarshal([]byte(th.MustReadFile(t, result.MetadataFile)), &meta); err != nil {
				t.Fatalf("metadata is not JSON: %v", err)
			}
			if meta.Title != "Test Album" {
				t.Errorf("metadata title = %q", meta.Title)
			}
			if len(meta.Tracks) != 0 {
				t.Errorf("metadata should not repeat the tracks")
			}
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "custom")

			result, err := WriteCSVExport(testExport(), base)
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}

			th.AssertFileExists(t, base+"_tracks.csv")
			th.AssertFileExists(t, result.MetadataFile)
		})
	})

	t.Run("WriteMarkdownExport", func(t *testing.T) {
		t.Run("WithDefaultDirectory", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			result, err := WriteMarkdownExport(testExport(), "")
			if err != nil {
				t.Fatalf("WriteMarkdownExport failed: %v", err)
			}

			th.AssertDirExists(t, result.Directory)

			readmePath := filepath.Join(result.Directory, "README.md")
			th.AssertFileExists(t, readmePath)

			content := th.MustReadFile(t, readmePath)
			if !strings.Contains(content, "# Test Album") {
				t.Errorf("README missing title")
			}
			if result.CoverImage != "" {
				t.Errorf("no cover expected, got %q", result.CoverImage)
			}
		})

		t.Run("WithCover", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("jpeg-bytes"))
			}))
			defer srv.Close()

			export := testExport()
			export.CoverURL = srv.URL
			dir := filepath.Join(t.TempDir(), "album")

			result, err := WriteMarkdownExport(export, dir)
			if err != nil {
				t.Fatalf("WriteMarkdownExport failed: %v", err)
			}

			th.AssertFileExists(t, result.CoverImage)
			if len(result.Files) != 2 {
				t.Errorf("expected cover and README, got %v", result.Files)
			}
			if !strings.Contains(th.MustReadFile(t, filepath.Join(dir, "README.md")), "![Cover](cover.jpg)") {
				t.Errorf("README should embed the cover")
			}
		})

		t.Run("CoverFailureIsIgnored", func(t *testing.T) {
			export := testExport()
			export.CoverURL = "http://127.0.0.1:1/cover.jpg"
			dir := filepath.Join(t.TempDir(), "album")

			result, err := WriteMarkdownExport(export, dir)
			if err != nil {
				t.Fatalf("WriteMarkdownExport failed: %v", err)
			}
			th.AssertFileExists(t, filepath.Join(dir, "README.md"))
			if result.CoverImage != "" {
				t.Errorf("cover should be skipped")
			}
		})
	})

	t.Run("WriteTextExport", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			path, err := WriteTextExport(testExport(), "")
			if err != nil {
				t.Fatalf("WriteTextExport failed: %v", err)
			}

			if path != "test123_tracks.txt" {
				t.Errorf("path = %q", path)
			}
			th.AssertFileExists(t, path)

			content := th.MustReadFile(t, path)
			if !strings.Contains(content, "Artist Two - Song Two") {
				t.Errorf("Text file missing track data")
			}
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.txt")

			got, err := WriteTextExport(testExport(), path)
			if err != nil {
				t.Fatalf("WriteTextExport failed: %v", err)
			}
			th.AssertFileExists(t, got)
		})
	})
}
