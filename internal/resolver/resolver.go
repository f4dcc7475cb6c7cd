// package resolver turns (track, provider, quality) into a playable stream URL, caching grants
// until they expire and collapsing concurrent resolutions of the same key into one upstream call.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL            = 10 * time.Minute
	DefaultMaxEntries     = 512
	DefaultResolveTimeout = 10 * time.Second
)

var ErrUnknownProvider = errors.New("unknown provider")

// StreamResolutionError reports a failed resolution for one key.
type StreamResolutionError struct {
	TrackID  string
	Provider models.ProviderID
	Quality  models.StreamQuality
	Err      error
}

func (e *StreamResolutionError) Error() string {
	return fmt.Sprintf("resolve %s:%s (%s): %v", e.Provider, e.TrackID, e.Quality, e.Err)
}

func (e *StreamResolutionError) Unwrap() error { return e.Err }

// Options configures a [Resolver]. Zero values select the defaults.
type Options struct {
	DefaultTTL     time.Duration
	MaxEntries     int
	ResolveTimeout time.Duration
	Now            func() time.Time
	Logger         *log.Logger
	Metrics        *metrics.Metrics
}

// Resolver resolves and caches stream URLs.
type Resolver struct {
	registry services.Registry
	cache    *Cache
	group    singleflight.Group
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// New creates a Resolver over the registered providers.
func New(registry services.Registry, opts Options) *Resolver {
	r := &Resolver{
		registry: registry,
		ttl:      opts.DefaultTTL,
		timeout:  opts.ResolveTimeout,
		now:      opts.Now,
		metrics:  opts.Metrics,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.timeout <= 0 {
		r.timeout = DefaultResolveTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	r.cache = NewCache(maxEntries, r.now)

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	r.logger = shared.WithLogger(logger, "component", "resolver")
	return r
}

// Resolve returns a stream URL for the key, from cache when fresh.
//
// IsCached is true only for cache hits. Callers that joined another caller's in-flight
// resolution get Shared=true. The upstream call is not tied to any single caller's
// cancellation, but each caller returns as soon as its own ctx is done.
func (r *Resolver) Resolve(ctx context.Context, trackID string, provider models.ProviderID, quality models.StreamQuality) (*models.StreamURL, error) {
	key := Key{TrackID: trackID, Provider: provider, Quality: quality}

	if trackID == "" {
		return nil, r.fail(key, fmt.Errorf("%w: empty track id", shared.ErrInvalidInput))
	}

	p, ok := r.registry.Get(provider)
	if !ok {
		return nil, r.fail(key, fmt.Errorf("%w: %s", ErrUnknownProvider, provider))
	}

	switch entry, state := r.cache.Lookup(key); state {
	case Fresh:
		r.metrics.CacheHit()
		out := entry.streamURL(key)
		out.IsCached = true
		return out, nil
	case Stale:
		r.metrics.CacheExpired()
	default:
		r.metrics.CacheMiss()
	}

	ch := r.group.DoChan(key.String(), func() (any, error) { return r.fetch(ctx, key, p) })

	select {
	case <-ctx.Done():
		return nil, r.fail(key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, r.fail(key, res.Err)
		}
		f := res.Val.(flight)
		out := f.entry.streamURL(key)
		out.IsCached = f.cached
		if res.Shared {
			out.Shared = true
			r.metrics.SharedResolve()
		}
		return out, nil
	}
}

// fetch runs inside the singleflight call for key.
func (r *Resolver) fetch(ctx context.Context, key Key, p services.Provider) (flight, error) {
	// a flight that finished between our lookup and DoChan may already have stored the key
	if entry, state := r.cache.Lookup(key); state == Fresh {
		return flight{entry: entry, cached: true}, nil
	}

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	grant, err := p.ResolveStreamURL(uctx, key.TrackID, key.Quality)
	if err != nil {
		return flight{}, err
	}

	obtained := r.now()
	entry := Entry{URL: grant.URL, ObtainedAt: obtained, ExpiresAt: grant.ExpiresAt}
	switch {
	case entry.ExpiresAt.IsZero():
		entry.ExpiresAt = obtained.Add(r.ttl)
	case !entry.ExpiresAt.After(obtained):
		r.logger.Warn("provider returned an already expired stream url", "provider", key.Provider, "track", key.TrackID, "expires", entry.ExpiresAt)
		return flight{entry: entry}, nil
	}
	if evicted := r.cache.Store(key, entry); evicted > 0 {
		r.metrics.Evicted(evicted)
	}
	r.logger.Debug("stream url resolved", "provider", key.Provider, "track", key.TrackID, "quality", key.Quality, "expires", entry.ExpiresAt)
	return flight{entry: entry}, nil
}

// flight is the value shared by callers of one singleflight call.
// Entries whose declared expiry already passed are returned but never stored.
type flight struct {
	entry  Entry
	cached bool
}

func (r *Resolver) fail(key Key, err error) error {
	if !errors.Is(err, context.Canceled) {
		r.logger.Warn("stream resolution failed", "provider", key.Provider, "track", key.TrackID, "quality", key.Quality, "error", err)
	}
	return &StreamResolutionError{TrackID: key.TrackID, Provider: key.Provider, Quality: key.Quality, Err: err}
}

// Invalidate drops the cached entry for key, e.g. after the sink reported the URL dead.
func (r *Resolver) Invalidate(key Key) bool { return r.cache.Delete(key) }

// Purge empties the cache.
func (r *Resolver) Purge() { r.cache.Purge() }

// Len returns the number of cached entries, fresh or not.
func (r *Resolver) Len() int { return r.cache.Len() }

// Cached returns the fresh entry for key without resolving.
func (r *Resolver) Cached(key Key) (*models.StreamURL, bool) {
	entry, state := r.cache.Lookup(key)
	if state != Fresh {
		return nil, false
	}
	out := entry.streamURL(key)
	out.IsCached = true
	return out, true
}
