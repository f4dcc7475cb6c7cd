package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/formatter"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/server"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/desertthunder/sonar/internal/tasks"
	"github.com/urfave/cli/v3"
)

const defaultQueueName = "default"

// handoffSink keeps the last handoff so one-shot commands can print the stream they started.
type handoffSink struct {
	last *tasks.Handoff
}

func (s *handoffSink) Load(_ context.Context, h tasks.Handoff) error {
	s.last = &h
	return nil
}

// withQueue restores the named queue, applies fn and saves the result, even when fn fails part way.
func (r *Runner) withQueue(ctx context.Context, cmd *cli.Command, fn func(*tasks.Controller) error) (*handoffSink, error) {
	sink := &handoffSink{}
	ctrl, err := r.newController(ctx, controllerOpts{
		sink:    sink,
		quality: models.ParseStreamQuality(cmd.String("quality")),
	})
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	name := cmd.String("name")
	if name == "" {
		name = defaultQueueName
	}
	if _, err := ctrl.Restore(name); err != nil && !errors.Is(err, shared.ErrQueueNotFound) {
		return nil, err
	}

	opErr := fn(ctrl)
	if err := ctrl.Save(name); err != nil {
		return sink, errors.Join(opErr, err)
	}
	return sink, opErr
}

// QueueLoad fetches a source and replaces (or extends) the saved queue with it.
func (r *Runner) QueueLoad(ctx context.Context, cmd *cli.Command) error {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	src, tracks, err := r.fetchForQueue(ctx, cmd.String("kind"), cmd.String("provider"), id)
	if err != nil {
		return err
	}
	r.logger.Info("fetched source", "kind", src.Kind, "provider", src.Provider, "id", src.ID, "tracks", len(tracks))

	playMode := models.PlayNormal
	if cmd.Bool("shuffle") {
		playMode = models.PlayShuffle
	}

	var st queue.State
	sink, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		if cmd.Bool("append") && ctrl.Queue().State().Status == queue.Loaded {
			st = ctrl.Enqueue(tracks...)
			return nil
		}
		st = ctrl.Load(queue.LoadRequest{
			Source:      src,
			Tracks:      tracks,
			PlayMode:    playMode,
			LoopMode:    models.ParseLoopMode(cmd.String("loop")),
			RepeatCount: cmd.Int("repeat"),
		})
		if !cmd.Bool("play") {
			return nil
		}
		_, err := ctrl.Play(ctx)
		st = ctrl.Queue().State()
		return err
	})
	if err != nil {
		return err
	}
	return r.writeQueueResult(cmd, st, sink)
}

// fetchForQueue resolves the load target into tracks. Search loads take the merged first page.
func (r *Runner) fetchForQueue(ctx context.Context, kind, provider, id string) (models.SourceRef, []models.Track, error) {
	if kind == "search" {
		providers, err := server.ParseProviders(provider)
		if err != nil {
			return models.SourceRef{}, nil, err
		}
		res, err := r.aggregator(ctx).Search(ctx, aggregator.Request{
			Query:     id,
			Type:      models.SearchTrack,
			Limit:     r.config.Search.DefaultLimit,
			Providers: providers,
		})
		if err != nil {
			return models.SourceRef{}, nil, fmt.Errorf("search failed: %w", err)
		}
		return models.SourceRef{Kind: models.SourceSearch, ID: id}, res.Tracks, nil
	}

	if provider == "" {
		return models.SourceRef{}, nil, fmt.Errorf("%w: --provider", shared.ErrMissingArgument)
	}
	src := models.SourceRef{Kind: sourceKind(kind), ID: id, Provider: models.ParseProviderID(provider)}
	tracks, err := tasks.FetchSource(ctx, r.providers(ctx), src)
	if err != nil {
		return src, nil, err
	}
	return src, tracks, nil
}

func sourceKind(kind string) models.SourceKind {
	switch kind {
	case "track":
		return models.SourceAdhoc
	default:
		return models.SourceKind(kind)
	}
}

// QueueShow prints the saved queue in traversal order.
func (r *Runner) QueueShow(ctx context.Context, cmd *cli.Command) error {
	var st queue.State
	if _, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		st = ctrl.Queue().State()
		return nil
	}); err != nil {
		return err
	}

	format := outputFormat(cmd)
	switch format {
	case "plain":
		r.writeQueue(st)
		return nil
	case "json":
		return r.writeJSON(server.NewQueueView(st), cmd.Bool("pretty"))
	default:
		return r.export(formatter.ExportFromQueue(st), format, cmd.String("output"))
	}
}

// QueueNext advances and resolves the next track.
func (r *Runner) QueueNext(ctx context.Context, cmd *cli.Command) error {
	return r.step(ctx, cmd, func(ctrl *tasks.Controller) (queue.State, error) { return ctrl.Next(ctx) })
}

// QueuePrevious steps back and resolves the previous track.
func (r *Runner) QueuePrevious(ctx context.Context, cmd *cli.Command) error {
	return r.step(ctx, cmd, func(ctrl *tasks.Controller) (queue.State, error) { return ctrl.Previous(ctx) })
}

// QueueJump plays the track at a 1-based traversal position.
func (r *Runner) QueueJump(ctx context.Context, cmd *cli.Command) error {
	pos := cmd.IntArg("position")
	if pos <= 0 {
		return fmt.Errorf("%w: position must be at least 1", shared.ErrInvalidArgument)
	}
	return r.step(ctx, cmd, func(ctrl *tasks.Controller) (queue.State, error) { return ctrl.JumpTo(ctx, pos-1) })
}

func (r *Runner) step(ctx context.Context, cmd *cli.Command, move func(*tasks.Controller) (queue.State, error)) error {
	var st queue.State
	sink, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		var err error
		st, err = move(ctrl)
		return err
	})
	if err != nil {
		return err
	}
	return r.writeQueueResult(cmd, st, sink)
}

// QueueShuffle toggles the play mode, or reshuffles the upcoming tracks with --reshuffle.
func (r *Runner) QueueShuffle(ctx context.Context, cmd *cli.Command) error {
	var st queue.State
	if _, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		if cmd.Bool("reshuffle") {
			st = ctrl.Queue().Reshuffle()
		} else {
			st = ctrl.Queue().TogglePlayMode()
		}
		return nil
	}); err != nil {
		return err
	}
	return r.writeQueueResult(cmd, st, nil)
}

// QueueLoop cycles once → infinite → repeat, or sets the mode given by --mode.
func (r *Runner) QueueLoop(ctx context.Context, cmd *cli.Command) error {
	var st queue.State
	if _, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		if mode := cmd.String("mode"); mode != "" {
			st = ctrl.Queue().SetLoopMode(models.ParseLoopMode(mode), cmd.Int("count"))
		} else {
			st = ctrl.Queue().ToggleLoopMode()
		}
		return nil
	}); err != nil {
		return err
	}
	return r.writeQueueResult(cmd, st, nil)
}

// QueueRemove drops the track at a 1-based traversal position.
func (r *Runner) QueueRemove(ctx context.Context, cmd *cli.Command) error {
	pos := cmd.IntArg("position")
	if pos <= 0 {
		return fmt.Errorf("%w: position must be at least 1", shared.ErrInvalidArgument)
	}
	var st queue.State
	if _, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		var err error
		st, err = ctrl.Queue().Remove(pos - 1)
		return err
	}); err != nil {
		return err
	}
	return r.writeQueueResult(cmd, st, nil)
}

// QueueMove moves the track at one 1-based traversal position to another.
func (r *Runner) QueueMove(ctx context.Context, cmd *cli.Command) error {
	from, to := cmd.IntArg("from"), cmd.IntArg("to")
	if from <= 0 || to <= 0 {
		return fmt.Errorf("%w: positions must be at least 1", shared.ErrInvalidArgument)
	}
	var st queue.State
	if _, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		var err error
		st, err = ctrl.Queue().Move(from-1, to-1)
		return err
	}); err != nil {
		return err
	}
	return r.writeQueueResult(cmd, st, nil)
}

// QueueClear empties the saved queue.
func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	if _, err := r.withQueue(ctx, cmd, func(ctrl *tasks.Controller) error {
		ctrl.Clear()
		return nil
	}); err != nil {
		return err
	}
	r.writePlain("✓ Queue cleared\n")
	return nil
}

type queueResult struct {
	Queue   server.QueueView `json:"queue"`
	Handoff *handoffView     `json:"handoff,omitempty"`
}

type handoffView struct {
	StreamURL string               `json:"stream_url"`
	IsCached  bool                 `json:"is_cached"`
	Quality   models.StreamQuality `json:"quality"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	Track     models.Track         `json:"track"`
}

func (r *Runner) writeQueueResult(cmd *cli.Command, st queue.State, sink *handoffSink) error {
	var h *handoffView
	if sink != nil && sink.last != nil {
		h = &handoffView{
			StreamURL: sink.last.StreamURL,
			IsCached:  sink.last.IsCached,
			Quality:   sink.last.Quality,
			Track:     sink.last.Track,
		}
		if !sink.last.ExpiresAt.IsZero() {
			expires := sink.last.ExpiresAt
			h.ExpiresAt = &expires
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(queueResult{Queue: server.NewQueueView(st), Handoff: h}, true)
	}

	if h != nil {
		cached := ""
		if h.IsCached {
			cached = " (cached)"
		}
		r.writePlain("▶ %s\n", formatter.TrackLine(h.Track))
		r.writePlain("  %s%s\n", h.StreamURL, cached)
	}
	r.writePlain("%s\n", modeSummary(st))
	return nil
}

func (r *Runner) writeQueue(st queue.State) {
	if st.Status == queue.Empty {
		r.writePlain("Queue is empty\n")
		return
	}

	r.writePlainHeader(fmt.Sprintf("Queue: %s %s (%s)", st.Source.Kind, st.Source.ID, modeSummary(st)))
	for i, t := range st.Tracks {
		marker := "  "
		if i == st.Index {
			marker = "▶ "
		}
		r.writePlain("%s%3d. %s\n", marker, i+1, formatter.TrackLine(t))
	}
}

func modeSummary(st queue.State) string {
	if st.Status == queue.Empty {
		return "queue empty"
	}
	loop := string(st.LoopMode)
	if st.LoopMode == models.LoopRepeat {
		loop = fmt.Sprintf("repeat %d/%d", st.RepeatsDone, st.RepeatCount)
	}
	return fmt.Sprintf("track %d/%d · %s · %s", st.Index+1, st.Len(), st.PlayMode, loop)
}
