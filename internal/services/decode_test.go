package services

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
)

type rawItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func normalizeRawItem(r rawItem) (string, error) {
	if r.ID == "" {
		return "", errors.New("missing id")
	}
	return r.ID + "/" + r.Name, nil
}

func rawItems(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestDecode(t *testing.T) {
	items := rawItems(
		`{"id":"1","name":"one"}`,
		`null`,
		`{"id":`,
		`{"name":"anonymous"}`,
		`{"id":"5","name":"five"}`,
	)

	t.Run("DecodeEach Tags Every Item", func(t *testing.T) {
		decoded := decodeEach(items, normalizeRawItem)
		if len(decoded) != 5 {
			t.Fatalf("expected 5 outcomes, got %d", len(decoded))
		}

		for i, d := range decoded {
			if d.Index != i {
				t.Errorf("expected index %d, got %d", i, d.Index)
			}
		}
		if !decoded[0].OK() || decoded[0].Value != "1/one" {
			t.Errorf("expected first item to decode, got %+v", decoded[0])
		}
		for _, i := range []int{1, 2, 3} {
			if decoded[i].OK() {
				t.Errorf("expected item %d to fail", i)
			}
			if !errors.Is(decoded[i].Err, ErrMalformed) {
				t.Errorf("expected item %d to be malformed, got %v", i, decoded[i].Err)
			}
		}
		if !decoded[4].OK() {
			t.Errorf("expected last item to decode, got %v", decoded[4].Err)
		}
	})

	t.Run("KeepValid Drops Failures", func(t *testing.T) {
		logger := shared.NewLogger(io.Discard)

		got := keepValid(logger, models.ProviderQobuz, "track", decodeEach(items, normalizeRawItem))
		if len(got) != 2 || got[0] != "1/one" || got[1] != "5/five" {
			t.Errorf("expected [1/one 5/five], got %v", got)
		}
	})

	t.Run("Playlists Keep Positions", func(t *testing.T) {
		decoded := []Decoded[models.PlaylistSearchResult]{
			{Index: 0, Value: models.PlaylistSearchResult{ID: "a", Name: "A"}},
			{Index: 1, Err: ErrMalformed},
			{Index: 2, Value: models.PlaylistSearchResult{ID: "c", Name: "C"}},
		}

		got := playlistsWithPlaceholders(models.ProviderSpotify, decoded)
		if len(got) != 3 {
			t.Fatalf("expected 3 playlists, got %d", len(got))
		}
		if got[0].ID != "a" || got[2].ID != "c" {
			t.Errorf("expected valid playlists in place, got %s and %s", got[0].ID, got[2].ID)
		}
		if !got[1].Placeholder || got[1].ID != "spotify:invalid:1" {
			t.Errorf("expected placeholder at index 1, got %+v", got[1])
		}
	})
}

func TestNormalizeHelpers(t *testing.T) {
	t.Run("OptionalString", func(t *testing.T) {
		if optionalString("  ") != nil {
			t.Error("expected blank string to be nil")
		}
		if s := optionalString(" x "); s == nil || *s != "x" {
			t.Errorf("expected trimmed value, got %v", s)
		}
	})

	t.Run("OptionalPositive", func(t *testing.T) {
		if optionalPositive(0) != nil || optionalPositive(-3) != nil {
			t.Error("expected non-positive values to be nil")
		}
		if n := optionalPositive(4); n == nil || *n != 4 {
			t.Errorf("expected 4, got %v", n)
		}
		if n := secondsFromMillis(215_999); n == nil || *n != 215 {
			t.Errorf("expected 215 seconds, got %v", n)
		}
	})

	t.Run("JoinNames", func(t *testing.T) {
		if got := joinNames([]string{"A", " ", "B"}, "none"); got != "A, B" {
			t.Errorf("expected 'A, B', got %q", got)
		}
		if got := joinNames(nil, models.UnknownArtist); got != models.UnknownArtist {
			t.Errorf("expected fallback, got %q", got)
		}
	})

	t.Run("ParseClock", func(t *testing.T) {
		tests := map[string]int{"3:25": 205, "1:02:03": 3723}
		for in, want := range tests {
			if got := parseClock(in); got == nil || *got != want {
				t.Errorf("%s: expected %d, got %v", in, want, got)
			}
		}
		for _, in := range []string{"", "abc", "1:x", "1:2:3:4", "0:00"} {
			if got := parseClock(in); got != nil {
				t.Errorf("%q: expected nil, got %d", in, *got)
			}
		}
	})

	t.Run("ExpiryFromURL", func(t *testing.T) {
		got := expiryFromURL("https://cdn.example/a.flac?etsp=1700000000&hmac=x", "etsp")
		if !got.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("expected unix 1700000000, got %v", got)
		}
		if !expiryFromURL("https://cdn.example/a.flac", "etsp").IsZero() {
			t.Error("expected zero time without the parameter")
		}
		if !expiryFromURL("https://cdn.example/a.flac?etsp=soon", "etsp").IsZero() {
			t.Error("expected zero time for a non-numeric parameter")
		}
	})

	t.Run("PCMBitrate", func(t *testing.T) {
		sr, bd := 44100, 16
		if got := pcmBitrate(&sr, &bd); got == nil || *got != 1411 {
			t.Errorf("expected 1411 kbps, got %v", got)
		}
		if pcmBitrate(&sr, nil) != nil {
			t.Error("expected nil without bit depth")
		}
	})

	t.Run("Paging", func(t *testing.T) {
		if o, l := clampPage(-5, 0); o != 0 || l != defaultSearchLimit {
			t.Errorf("expected (0, %d), got (%d, %d)", defaultSearchLimit, o, l)
		}
		if _, l := clampPage(0, 500); l != maxSearchLimit {
			t.Errorf("expected limit capped at %d, got %d", maxSearchLimit, l)
		}

		items := []int{0, 1, 2, 3, 4}
		if got := pageOf(items, 3, 10); len(got) != 2 || got[0] != 3 {
			t.Errorf("expected [3 4], got %v", got)
		}
		if got := pageOf(items, 9, 2); len(got) != 0 {
			t.Errorf("expected empty page, got %v", got)
		}
	})
}
