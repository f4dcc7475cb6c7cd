package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultPrefetchWorkers = 3
	MaxPrefetchWorkers     = 10
	DefaultPrefetchRate    = 5.0
)

// PrefetchOpts contains configuration for stream URL prefetching.
type PrefetchOpts struct {
	Quality    models.StreamQuality // Requested quality for every track
	NumWorkers int                  // Concurrent workers (default: 3)
	RateLimit  float64              // Resolutions per second across all workers (default: 5)
}

// PrefetchResult summarizes one prefetch run.
type PrefetchResult struct {
	Total     int
	Resolved  int
	Cached    int
	Failed    int
	Skipped   int
	Results   []TrackPrefetchResult
	Cancelled bool
}

// TrackPrefetchResult is the outcome for one track.
type TrackPrefetchResult struct {
	Track   models.Track
	Stream  *models.StreamURL
	Error   error
	Skipped bool // never attempted because ctx ended or its deadline could not be met
}

// Prefetch warms the resolver cache for tracks using a rate-limited worker pool.
//
// Failures are collected per track and never abort the run. Results arrive in completion order.
// Every track gets exactly one result. When ctx is cancelled, or its deadline is too close for
// the rate limit, pending tracks are reported as skipped and the run returns with an error.
func Prefetch(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	res Resolver,
	tracks []models.Track,
	opts PrefetchOpts,
) (*PrefetchResult, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: resolver not initialized", shared.ErrServiceUnavailable)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = DefaultPrefetchWorkers
	}
	opts.NumWorkers = min(opts.NumWorkers, MaxPrefetchWorkers)
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultPrefetchRate
	}
	if opts.Quality == "" {
		opts.Quality = models.QualityLossless
	}

	result := &PrefetchResult{
		Total:   len(tracks),
		Results: make([]TrackPrefetchResult, 0, len(tracks)),
	}
	if len(tracks) == 0 {
		return result, nil
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan models.Track, len(tracks))
	results := make(chan TrackPrefetchResult, len(tracks))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go prefetchWorker(ctx, &wg, limiter, res, jobs, results, opts.Quality)
	}

	sendProgress(prog, prefetchStartUpdate(len(tracks)))
	for _, t := range tracks {
		jobs <- t
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	var skipErr error
	for r := range results {
		completed++
		result.Results = append(result.Results, r)

		if r.Skipped {
			result.Skipped++
			if skipErr == nil {
				skipErr = r.Error
			}
			continue
		}

		if r.Error != nil {
			result.Failed++
			sendProgress(prog, prefetchFailedUpdate(completed, len(tracks), r.Track, r.Error))
			continue
		}

		result.Resolved++
		if r.Stream.IsCached {
			result.Cached++
		}
		sendProgress(prog, prefetchCompletedUpdate(completed, len(tracks), r.Track))
	}

	if err := ctx.Err(); err != nil {
		result.Cancelled = true
		return result, err
	}
	if skipErr != nil {
		result.Cancelled = true
		return result, skipErr
	}
	return result, nil
}

// prefetchWorker resolves tracks from the jobs channel until it is drained. Once ctx is done
// or the limiter cannot fit another call before the deadline, remaining jobs are reported as skipped.
func prefetchWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	res Resolver,
	jobs <-chan models.Track,
	results chan<- TrackPrefetchResult,
	quality models.StreamQuality,
) {
	defer wg.Done()

	for t := range jobs {
		if err := ctx.Err(); err != nil {
			results <- TrackPrefetchResult{Track: t, Error: err, Skipped: true}
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			results <- TrackPrefetchResult{Track: t, Error: limiterError(ctx, err), Skipped: true}
			continue
		}

		stream, err := res.Resolve(ctx, t.ID, t.Source, quality)
		results <- TrackPrefetchResult{Track: t, Stream: stream, Error: err}
	}
}

// limiterError keeps ctx's error in the chain. Wait fails early when the next token lands after the deadline.
func limiterError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
