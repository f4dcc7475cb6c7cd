package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/resolver"
	"github.com/desertthunder/sonar/internal/shared"
)

const DefaultPrefetchAhead = 2

// ErrStreamExpired is returned by a [Sink] that could not open a stream URL because it went stale.
// The controller drops the cached URL and resolves once more.
var ErrStreamExpired = errors.New("stream url expired")

// Handoff is what the audio sink receives for each track it should play.
type Handoff struct {
	StreamURL string
	IsCached  bool
	Track     models.Track
	Quality   models.StreamQuality
	ExpiresAt time.Time
}

// OutputFormat is the format the sink reports once decoding starts. It is stored and shown verbatim.
type OutputFormat struct {
	Bitrate    *int   `json:"bitrate,omitempty"`
	SampleRate *int   `json:"sample_rate,omitempty"`
	BitDepth   *int   `json:"bit_depth,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

// Sink is the external audio playback collaborator.
type Sink interface {
	Load(ctx context.Context, h Handoff) error
}

// NowPlaying combines the queue view with the resolved stream and the sink's reported format.
type NowPlaying struct {
	Queue  queue.State
	Stream *models.StreamURL
	Format *OutputFormat
}

// ControllerOpts configures a [Controller]. All collaborators except the queue, resolver and sink are optional.
type ControllerOpts struct {
	Quality  models.StreamQuality // Requested quality (default: lossless)
	Ahead    int                  // Upcoming tracks to prefetch after each play; negative disables
	Prefetch PrefetchOpts
	Cache    TrackCacher
	Store    QueueStore
	Hydrator Hydrator
	Progress chan<- ProgressUpdate
	Logger   *log.Logger
}

// Controller drives playback of a [queue.Queue].
//
// On every play it resolves the current track, hands the URL to the sink and prefetches what comes next.
type Controller struct {
	queue    *queue.Queue
	resolver Resolver
	sink     Sink
	opts     ControllerOpts
	logger   *log.Logger

	mu     sync.Mutex
	stream *models.StreamURL
	format *OutputFormat

	prefetchMu     sync.Mutex
	cancelPrefetch context.CancelFunc
	wg             sync.WaitGroup
}

// NewController creates a Controller.
func NewController(q *queue.Queue, r Resolver, sink Sink, opts ControllerOpts) *Controller {
	if opts.Quality == "" {
		opts.Quality = models.QualityLossless
	}
	if opts.Ahead == 0 {
		opts.Ahead = DefaultPrefetchAhead
	}
	if opts.Prefetch.Quality == "" {
		opts.Prefetch.Quality = opts.Quality
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		queue:    q,
		resolver: r,
		sink:     sink,
		opts:     opts,
		logger:   shared.WithLogger(logger, "component", "playback"),
	}
}

// Queue returns the controlled queue.
func (c *Controller) Queue() *queue.Queue { return c.queue }

// Load caches the tracks' metadata and replaces the queue. It does not start playback.
func (c *Controller) Load(req queue.LoadRequest) queue.State {
	c.cacheTracks(req.Tracks)
	c.clearStream()
	return c.queue.Load(req)
}

// Enqueue appends tracks to the queue.
func (c *Controller) Enqueue(tracks ...models.Track) queue.State {
	c.cacheTracks(tracks)
	return c.queue.Append(tracks...)
}

// Play resolves the current track and hands it to the sink.
func (c *Controller) Play(ctx context.Context) (Handoff, error) {
	t, err := c.queue.Current()
	if err != nil {
		return Handoff{}, fmt.Errorf("cannot start playback: %w", err)
	}

	h, err := c.handoff(ctx, t)
	if err != nil {
		return Handoff{}, err
	}

	err = c.sink.Load(ctx, h)
	if errors.Is(err, ErrStreamExpired) {
		c.logger.Warn("sink rejected stream url, resolving again", "track", t.Key())
		c.resolver.Invalidate(resolver.Key{TrackID: t.ID, Provider: t.Source, Quality: c.opts.Quality})
		if h, err = c.handoff(ctx, t); err != nil {
			return Handoff{}, err
		}
		err = c.sink.Load(ctx, h)
	}
	if err != nil {
		return Handoff{}, fmt.Errorf("sink failed to load %s: %w", t.Key(), err)
	}

	sendProgress(c.opts.Progress, loadSinkUpdate(h))
	c.startPrefetch()
	return h, nil
}

// Next advances the queue and plays the new current track. When the queue runs out,
// playback stops and the Empty state is returned without error.
func (c *Controller) Next(ctx context.Context) (queue.State, error) {
	return c.playAfter(ctx, c.queue.Advance())
}

// Previous steps back one track and plays it.
func (c *Controller) Previous(ctx context.Context) (queue.State, error) {
	return c.playAfter(ctx, c.queue.Previous())
}

// JumpTo plays the track at traversal index i.
func (c *Controller) JumpTo(ctx context.Context, i int) (queue.State, error) {
	st, err := c.queue.JumpTo(i)
	if err != nil {
		return st, err
	}
	return c.playAfter(ctx, st)
}

func (c *Controller) playAfter(ctx context.Context, st queue.State) (queue.State, error) {
	if st.Status == queue.Empty {
		c.stopPrefetch()
		c.clearStream()
		return st, nil
	}
	_, err := c.Play(ctx)
	return c.queue.State(), err
}

// Clear stops playback and empties the queue. Play and loop modes are kept.
func (c *Controller) Clear() queue.State {
	c.stopPrefetch()
	c.clearStream()
	return c.queue.Clear()
}

// ReportFormat records the output format the sink reported for the current track.
func (c *Controller) ReportFormat(f OutputFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = &f
}

// NowPlaying returns the current queue view with stream and format details.
func (c *Controller) NowPlaying() NowPlaying {
	st := c.queue.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	np := NowPlaying{Queue: st}
	if c.stream != nil && st.Current != nil && c.stream.TrackID == st.Current.TrackID {
		stream := *c.stream
		np.Stream = &stream
		if c.format != nil {
			f := *c.format
			np.Format = &f
		}
	}
	return np
}

// Save persists the queue under name.
func (c *Controller) Save(name string) error {
	if c.opts.Store == nil {
		return fmt.Errorf("%w: queue store not configured", shared.ErrServiceUnavailable)
	}
	snap := c.queue.Snapshot()
	if _, err := c.opts.Store.Save(name, snap); err != nil {
		return fmt.Errorf("failed to save queue %q: %w", name, err)
	}
	sendProgress(c.opts.Progress, persistQueueUpdate(name, snap))
	return nil
}

// Restore replaces the queue with the one saved under name, re-hydrating track metadata.
func (c *Controller) Restore(name string) (queue.State, error) {
	if c.opts.Store == nil || c.opts.Hydrator == nil {
		return c.queue.State(), fmt.Errorf("%w: queue store not configured", shared.ErrServiceUnavailable)
	}

	saved, err := c.opts.Store.GetByName(name)
	if err != nil {
		return c.queue.State(), fmt.Errorf("failed to load queue %q: %w", name, err)
	}
	snap := saved.Snapshot()

	tracks, err := c.opts.Hydrator.Hydrate(snap.Tracks)
	if err != nil {
		return c.queue.State(), fmt.Errorf("failed to hydrate queue %q: %w", name, err)
	}

	c.clearStream()
	st, err := c.queue.Restore(snap, tracks)
	if err != nil {
		return st, fmt.Errorf("failed to restore queue %q: %w", name, err)
	}
	sendProgress(c.opts.Progress, restoreQueueUpdate(name, snap))
	return st, nil
}

// Close stops any background prefetch and waits for it to exit.
func (c *Controller) Close() {
	c.stopPrefetch()
	c.wg.Wait()
}

func (c *Controller) handoff(ctx context.Context, t models.Track) (Handoff, error) {
	sendProgress(c.opts.Progress, resolveStreamUpdate(t, c.opts.Quality))

	stream, err := c.resolver.Resolve(ctx, t.ID, t.Source, c.opts.Quality)
	if err != nil {
		return Handoff{}, err
	}

	c.mu.Lock()
	c.stream = stream
	c.format = nil
	c.mu.Unlock()

	return Handoff{
		StreamURL: stream.URL,
		IsCached:  stream.IsCached,
		Track:     t,
		Quality:   stream.Quality,
		ExpiresAt: stream.ExpiresAt,
	}, nil
}

func (c *Controller) clearStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = nil
	c.format = nil
}

func (c *Controller) cacheTracks(tracks []models.Track) {
	if c.opts.Cache == nil || len(tracks) == 0 {
		return
	}
	sendProgress(c.opts.Progress, cacheTracksUpdate(0, len(tracks)))
	for _, t := range tracks {
		if err := c.opts.Cache.CacheTrack(t); err != nil {
			c.logger.Warn("failed to cache track metadata", "track", t.Key(), "error", err)
		}
	}
}

// startPrefetch replaces any running prefetch with one for the next Ahead tracks.
func (c *Controller) startPrefetch() {
	if c.opts.Ahead < 0 {
		return
	}
	upcoming := c.queue.State().Upcoming()
	if len(upcoming) == 0 {
		return
	}
	upcoming = upcoming[:min(c.opts.Ahead, len(upcoming))]

	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	if c.cancelPrefetch != nil {
		c.cancelPrefetch()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelPrefetch = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := Prefetch(ctx, c.opts.Progress, c.resolver, upcoming, c.opts.Prefetch)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("prefetch failed", "error", err)
			return
		}
		if res != nil && res.Failed+res.Skipped > 0 {
			c.logger.Debug("prefetch finished with failures", "resolved", res.Resolved, "failed", res.Failed, "skipped", res.Skipped)
		}
	}()
}

func (c *Controller) stopPrefetch() {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	if c.cancelPrefetch != nil {
		c.cancelPrefetch()
		c.cancelPrefetch = nil
	}
}
