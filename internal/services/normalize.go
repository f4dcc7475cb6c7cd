package services

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/samber/lo"
)

// optionalString returns nil for blank strings.
func optionalString(s string) *string {
	return lo.EmptyableToPtr(strings.TrimSpace(s))
}

// optionalPositive returns nil unless n > 0. Providers use 0 for "unknown".
func optionalPositive(n int) *int {
	if n <= 0 {
		return nil
	}
	return lo.ToPtr(n)
}

// secondsFromMillis converts a millisecond duration, keeping "unknown" as nil.
func secondsFromMillis(ms int) *int {
	return optionalPositive(ms / 1000)
}

// joinNames joins non-blank names, falling back when none remain.
func joinNames(names []string, fallback string) string {
	kept := lo.Compact(lo.Map(names, func(n string, _ int) string { return strings.TrimSpace(n) }))
	if len(kept) == 0 {
		return fallback
	}
	return strings.Join(kept, ", ")
}

// orDefault returns s unless it is blank.
func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// parseClock parses "m:ss" or "h:mm:ss" into seconds.
func parseClock(s string) *int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil
		}
		total = total*60 + n
	}
	return optionalPositive(total)
}

// expiryFromURL reads a unix timestamp from the named query parameter of a signed URL.
func expiryFromURL(raw, param string) time.Time {
	u, err := url.Parse(raw)
	if err != nil {
		return time.Time{}
	}
	v := u.Query().Get(param)
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// pcmBitrate derives the uncompressed stereo bitrate in kbps from lossless facets.
func pcmBitrate(sampleRate, bitDepth *int) *int {
	if sampleRate == nil || bitDepth == nil {
		return nil
	}
	return lo.ToPtr(*sampleRate * *bitDepth * 2 / 1000)
}

// pageOf slices items to the [offset, offset+limit) window.
func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func trackKinds(kind models.SearchType) (tracks, albums, playlists bool) {
	return kind.IncludesTracks(), kind.IncludesAlbums(), kind.IncludesPlaylists()
}
