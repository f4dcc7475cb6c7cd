// package aggregator fans a search out to every selected provider and merges the answers
// in provider priority order.
//
// A slow or failing provider never aborts the search: it is logged, counted and left out.
// Only when every selected provider fails does [Aggregator.Search] return an error.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultLimit   = 20
	MaxLimit       = 50
)

// DefaultPriority is the merge order used when none is configured.
var DefaultPriority = []models.ProviderID{models.ProviderQobuz, models.ProviderSpotify, models.ProviderYouTube}

var (
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrNoProviders        = errors.New("no providers selected")
)

// Request describes one aggregated search.
type Request struct {
	Query     string
	Type      models.SearchType
	Offset    int
	Limit     int
	Providers []models.ProviderID // empty selects every registered provider
}

// AggregateError reports the failure of every selected provider.
type AggregateError struct {
	Failures map[models.ProviderID]error
}

func (e *AggregateError) Error() string {
	ids := lo.Keys(e.Failures)
	slices.Sort(ids)
	parts := lo.Map(ids, func(id models.ProviderID, _ int) string {
		return fmt.Sprintf("%s: %v", id, e.Failures[id])
	})
	return fmt.Sprintf("%s (%s)", ErrAllProvidersFailed, strings.Join(parts, "; "))
}

// Unwrap exposes [ErrAllProvidersFailed] and every provider error.
func (e *AggregateError) Unwrap() []error {
	errs := []error{ErrAllProvidersFailed}
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// Options configures an [Aggregator]. Zero values select the defaults.
type Options struct {
	Timeout  time.Duration
	Priority []models.ProviderID
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// Aggregator performs concurrent multi-provider searches.
type Aggregator struct {
	registry services.Registry
	timeout  time.Duration
	priority []models.ProviderID
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// New creates an Aggregator over the registered providers.
func New(registry services.Registry, opts Options) *Aggregator {
	a := &Aggregator{
		registry: registry,
		timeout:  opts.Timeout,
		priority: opts.Priority,
		metrics:  opts.Metrics,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if len(a.priority) == 0 {
		a.priority = DefaultPriority
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	a.logger = shared.WithLogger(logger, "component", "aggregator")
	return a
}

// Timeout returns the per-provider deadline.
func (a *Aggregator) Timeout() time.Duration { return a.timeout }

// Providers returns the ids a request would query, in merge order.
func (a *Aggregator) Providers(requested []models.ProviderID) []models.ProviderID {
	ids := a.registry.IDs()
	if len(requested) > 0 {
		ids = lo.Filter(ids, func(id models.ProviderID, _ int) bool { return slices.Contains(requested, id) })
	}

	rank := func(id models.ProviderID) int {
		if i := slices.Index(a.priority, id); i >= 0 {
			return i
		}
		return len(a.priority)
	}
	slices.SortStableFunc(ids, func(x, y models.ProviderID) int {
		if rx, ry := rank(x), rank(y); rx != ry {
			return rx - ry
		}
		return strings.Compare(string(x), string(y))
	})
	return ids
}

type outcome struct {
	provider models.ProviderID
	results  *models.SearchResults
	err      error
}

// Search queries every selected provider concurrently, each under its own timeout, and merges
// the answers. Results are buffered and reordered by priority, never streamed.
func (a *Aggregator) Search(ctx context.Context, req Request) (*models.SearchResults, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", shared.ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = models.SearchAll
	}
	offset, limit := normalizePage(req.Offset, req.Limit)

	ids := a.Providers(req.Providers)
	if len(ids) == 0 {
		return nil, ErrNoProviders
	}

	outcomes := make([]outcome, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		provider, _ := a.registry.Get(id)
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			start := time.Now()
			res, err := provider.Search(pctx, query, req.Type, offset, limit)
			if err == nil && res == nil {
				err = fmt.Errorf("%s returned no results", id)
			}
			if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("timed out after %s: %w", a.timeout, context.DeadlineExceeded)
			}
			outcomes[i] = outcome{provider: id, results: res, err: err}

			if err != nil && ctx.Err() == nil {
				a.logger.Warn("provider search failed", "provider", id, "elapsed", time.Since(start), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, failures := merge(outcomes, offset, limit)
	a.metrics.Search(len(merged.Providers), len(failures))

	if len(merged.Providers) == 0 {
		return nil, &AggregateError{Failures: failures}
	}
	a.logger.Debug("search merged", "query", query, "providers", merged.Providers, "failed", len(failures), "total", merged.Total)
	return merged, nil
}

// merge concatenates responding providers' results in outcome order.
func merge(outcomes []outcome, offset, limit int) (*models.SearchResults, map[models.ProviderID]error) {
	merged := models.NewSearchResults(offset, limit)
	failures := map[models.ProviderID]error{}

	for _, o := range outcomes {
		if o.err != nil {
			failures[o.provider] = o.err
			continue
		}
		merged.Tracks = append(merged.Tracks, o.results.Tracks...)
		merged.Albums = append(merged.Albums, o.results.Albums...)
		merged.Playlists = append(merged.Playlists, o.results.Playlists...)
		merged.Total += o.results.Total
		merged.Providers = append(merged.Providers, o.provider)
	}
	return merged, failures
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return offset, min(limit, MaxLimit)
}
