package resolver

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/sonar/internal/models"
)

// Key identifies one cached stream URL.
type Key struct {
	TrackID  string
	Provider models.ProviderID
	Quality  models.StreamQuality
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Provider, k.TrackID, k.Quality)
}

// Entry is a cached grant.
type Entry struct {
	URL        string
	ObtainedAt time.Time
	ExpiresAt  time.Time
}

func (e Entry) streamURL(k Key) *models.StreamURL {
	return &models.StreamURL{
		URL:        e.URL,
		TrackID:    k.TrackID,
		Provider:   k.Provider,
		Quality:    k.Quality,
		ObtainedAt: e.ObtainedAt,
		ExpiresAt:  e.ExpiresAt,
	}
}

// State is the outcome of a cache lookup.
type State int

const (
	Missing State = iota
	Fresh
	Stale
)

// Cache is a bounded, expiry-aware map of stream URLs.
//
// Entries are valid while now < ExpiresAt. When full, the oldest ObtainedAt is evicted first.
type Cache struct {
	mu         sync.RWMutex
	entries    map[Key]Entry
	maxEntries int
	now        func() time.Time
}

func NewCache(maxEntries int, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: make(map[Key]Entry), maxEntries: maxEntries, now: now}
}

// Lookup returns the entry for k and whether it is still valid.
func (c *Cache) Lookup(k Key) (Entry, State) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	switch {
	case !ok:
		return Entry{}, Missing
	case c.now().Before(e.ExpiresAt):
		return e, Fresh
	default:
		return e, Stale
	}
}

// Store writes e under k, sweeping expired entries and evicting the oldest when over capacity.
// It returns how many entries were evicted for capacity.
func (c *Cache) Store(k Key, e Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	c.entries[k] = e

	over := len(c.entries) - c.maxEntries
	if c.maxEntries <= 0 || over <= 0 {
		return 0
	}

	keys := make([]Key, 0, len(c.entries))
	for key := range c.entries {
		if key != k {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b Key) int {
		return c.entries[a].ObtainedAt.Compare(c.entries[b].ObtainedAt)
	})
	for _, key := range keys[:min(over, len(keys))] {
		delete(c.entries, key)
	}
	return min(over, len(keys))
}

// Delete removes k, reporting whether it was present.
func (c *Cache) Delete(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[k]
	delete(c.entries, k)
	return ok
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
