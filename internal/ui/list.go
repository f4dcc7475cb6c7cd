package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/sonar/internal/formatter"
	"github.com/desertthunder/sonar/internal/models"
)

var (
	_ list.Item = trackItem{}
	_ list.Item = queueItem{}
)

// trackItem wraps a search result [models.Track] to implement [list.Item].
type trackItem struct {
	track models.Track
}

func (i trackItem) FilterValue() string { return i.track.Title }
func (i trackItem) Title() string       { return i.track.Title }
func (i trackItem) Description() string {
	desc := i.track.Artist
	if i.track.Album != "" && i.track.Album != models.UnknownAlbum {
		desc = fmt.Sprintf("%s • %s", desc, i.track.Album)
	}
	return fmt.Sprintf("%s • %s • %s • %s",
		desc,
		formatter.FormatDuration(i.track.Duration),
		i.track.Source.DisplayName(),
		formatter.FormatQuality(i.track.Quality),
	)
}

// queueItem is a queued track at a traversal position.
type queueItem struct {
	track   models.Track
	pos     int
	current bool
}

func (i queueItem) FilterValue() string { return i.track.Title }
func (i queueItem) Title() string {
	marker := "  "
	if i.current {
		marker = "▶ "
	}
	return fmt.Sprintf("%s%d. %s", marker, i.pos+1, i.track.Title)
}
func (i queueItem) Description() string {
	return fmt.Sprintf("%s • %s • %s", i.track.Artist, formatter.FormatDuration(i.track.Duration), i.track.Source.DisplayName())
}

func trackItems(tracks []models.Track) []list.Item {
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{track: t}
	}
	return items
}

func queueItems(tracks []models.Track, current int) []list.Item {
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = queueItem{track: t, pos: i, current: i == current}
	}
	return items
}
