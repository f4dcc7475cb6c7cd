package models

import "strings"

// ProviderID identifies a streaming catalog.
type ProviderID string

const (
	ProviderQobuz   ProviderID = "qobuz"
	ProviderSpotify ProviderID = "spotify"
	ProviderYouTube ProviderID = "youtube"
	ProviderUnknown ProviderID = "unknown"
)

// KnownProviders lists every concrete provider in default priority order.
var KnownProviders = []ProviderID{ProviderQobuz, ProviderSpotify, ProviderYouTube}

// ParseProviderID maps s onto a known [ProviderID], returning [ProviderUnknown] for anything unrecognized.
func ParseProviderID(s string) ProviderID {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qobuz":
		return ProviderQobuz
	case "spotify":
		return ProviderSpotify
	case "youtube", "ytmusic", "youtube_music":
		return ProviderYouTube
	default:
		return ProviderUnknown
	}
}

// DisplayName returns a human readable provider label. Unknown values never panic.
func (p ProviderID) DisplayName() string {
	switch p {
	case ProviderQobuz:
		return "Qobuz"
	case ProviderSpotify:
		return "Spotify"
	case ProviderYouTube:
		return "YouTube Music"
	default:
		return "Unknown"
	}
}

// Known reports whether p names a concrete provider.
func (p ProviderID) Known() bool {
	return p == ProviderQobuz || p == ProviderSpotify || p == ProviderYouTube
}

func (p ProviderID) String() string { return string(p) }

// StreamQuality is the quality tier a caller asks a provider to stream.
type StreamQuality string

const (
	QualityHiRes    StreamQuality = "hi_res"
	QualityLossless StreamQuality = "lossless"
	QualityLossy    StreamQuality = "lossy"
	QualityPreview  StreamQuality = "preview"
)

// ParseStreamQuality maps s onto a [StreamQuality], defaulting to [QualityLossless].
func ParseStreamQuality(s string) StreamQuality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hi_res", "hires", "hi-res":
		return QualityHiRes
	case "lossy", "mp3":
		return QualityLossy
	case "preview":
		return QualityPreview
	default:
		return QualityLossless
	}
}

func (q StreamQuality) String() string { return string(q) }
