package models

import (
	"fmt"
	"time"
)

// PlayMode controls the order in which a queue is traversed.
type PlayMode string

const (
	PlayNormal  PlayMode = "normal"
	PlayShuffle PlayMode = "shuffle"
)

// ParsePlayMode maps s onto a [PlayMode], defaulting to [PlayNormal].
func ParsePlayMode(s string) PlayMode {
	if PlayMode(s) == PlayShuffle {
		return PlayShuffle
	}
	return PlayNormal
}

// LoopMode controls what happens when a queue runs past its last track.
type LoopMode string

const (
	LoopOnce     LoopMode = "once"
	LoopRepeat   LoopMode = "repeat"
	LoopInfinite LoopMode = "infinite"
)

// ParseLoopMode maps s onto a [LoopMode], defaulting to [LoopOnce].
func ParseLoopMode(s string) LoopMode {
	switch LoopMode(s) {
	case LoopRepeat, LoopInfinite:
		return LoopMode(s)
	default:
		return LoopOnce
	}
}

// SourceKind describes where a queue's tracks came from.
type SourceKind string

const (
	SourcePlaylist SourceKind = "playlist"
	SourceAlbum    SourceKind = "album"
	SourceSearch   SourceKind = "search"
	SourceAdhoc    SourceKind = "adhoc"
)

// SourceRef points back at the collection a queue was loaded from.
type SourceRef struct {
	Kind     SourceKind `json:"kind"`
	ID       string     `json:"id,omitempty"`
	Provider ProviderID `json:"provider,omitempty"`
}

// TrackRef identifies one queued track. Display metadata is looked up separately.
type TrackRef struct {
	ID       string     `json:"id"`
	Provider ProviderID `json:"provider"`
}

func (r TrackRef) String() string { return fmt.Sprintf("%s:%s", r.Provider, r.ID) }

// NowPlaying is the denormalized view of the current track.
type NowPlaying struct {
	TrackID  string     `json:"track_id"`
	Title    string     `json:"title"`
	Artist   string     `json:"artist"`
	Album    string     `json:"album"`
	Duration *int       `json:"duration,omitempty"`
	CoverURL *string    `json:"cover_url,omitempty"`
	Provider ProviderID `json:"provider"`
}

// NowPlayingFrom copies the display fields of t.
func NowPlayingFrom(t Track) NowPlaying {
	return NowPlaying{
		TrackID:  t.ID,
		Title:    t.Title,
		Artist:   t.Artist,
		Album:    t.Album,
		Duration: t.Duration,
		CoverURL: t.CoverURL,
		Provider: t.Source,
	}
}

// QueueSnapshot is the flat persistence record of a playback queue.
//
// Order holds the traversal order. LoadOrder holds the order tracks were loaded in,
// which is what normal play mode returns to after shuffling.
type QueueSnapshot struct {
	ID           string      `json:"id"`
	Source       SourceRef   `json:"source"`
	Tracks       []TrackRef  `json:"tracks"`
	Order        []int       `json:"order"`
	CurrentIndex int         `json:"current_index"`
	PlayMode     PlayMode    `json:"play_mode"`
	LoopMode     LoopMode    `json:"loop_mode"`
	RepeatCount  int         `json:"repeat_count"`
	RepeatsDone  int         `json:"repeats_done"`
	CreatedAt    time.Time   `json:"created_at"`
	Current      *NowPlaying `json:"current,omitempty"`
}

// TrackOrder returns the queued track ids in traversal order.
func (s QueueSnapshot) TrackOrder() []string {
	ids := make([]string, 0, len(s.Order))
	for _, pos := range s.Order {
		if pos >= 0 && pos < len(s.Tracks) {
			ids = append(ids, s.Tracks[pos].ID)
		}
	}
	return ids
}

// Empty reports whether the snapshot describes an empty queue.
func (s QueueSnapshot) Empty() bool { return len(s.Order) == 0 }
