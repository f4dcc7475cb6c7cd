package services

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/models"
)

// Decoded is the tagged outcome of decoding one item of a provider list.
type Decoded[T any] struct {
	Index int
	Value T
	Err   error
}

// OK reports whether the item decoded cleanly.
func (d Decoded[T]) OK() bool { return d.Err == nil }

// decodeEach decodes every raw item into R and maps it through normalize.
//
// A failing item yields a tagged error instead of failing the batch. JSON null items
// are reported as malformed.
func decodeEach[R, T any](items []json.RawMessage, normalize func(R) (T, error)) []Decoded[T] {
	out := make([]Decoded[T], 0, len(items))
	for i, raw := range items {
		d := Decoded[T]{Index: i}
		if len(raw) == 0 || string(raw) == "null" {
			d.Err = fmt.Errorf("%w: item %d is null", ErrMalformed, i)
			out = append(out, d)
			continue
		}

		var r R
		if err := json.Unmarshal(raw, &r); err != nil {
			d.Err = fmt.Errorf("%w: item %d: %v", ErrMalformed, i, err)
			out = append(out, d)
			continue
		}

		v, err := normalize(r)
		if err != nil {
			d.Err = fmt.Errorf("%w: item %d: %v", ErrMalformed, i, err)
		} else {
			d.Value = v
		}
		out = append(out, d)
	}
	return out
}

// keepValid returns the decoded values, logging and dropping the failures.
func keepValid[T any](logger *log.Logger, provider models.ProviderID, what string, decoded []Decoded[T]) []T {
	out := make([]T, 0, len(decoded))
	for _, d := range decoded {
		if !d.OK() {
			logger.Warn("dropping malformed item", "provider", provider, "kind", what, "index", d.Index, "error", d.Err)
			continue
		}
		out = append(out, d.Value)
	}
	return out
}

// playlistsWithPlaceholders keeps list positions, substituting a placeholder for every failed playlist.
func playlistsWithPlaceholders(provider models.ProviderID, decoded []Decoded[models.PlaylistSearchResult]) []models.PlaylistSearchResult {
	out := make([]models.PlaylistSearchResult, len(decoded))
	for i, d := range decoded {
		if d.OK() {
			out[i] = d.Value
			continue
		}
		out[i] = models.NewPlaceholderPlaylist(provider, d.Index, d.Err)
	}
	return out
}
