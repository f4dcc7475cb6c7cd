package tasks

import (
	"fmt"

	"github.com/desertthunder/sonar/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	CacheTracks Phase = iota
	ResolveStream
	LoadSink
	PrefetchStreams
	PersistQueue
	RestoreQueue
)

func (p Phase) String() string {
	switch p {
	case CacheTracks:
		return "cache_tracks"
	case ResolveStream:
		return "resolve_stream"
	case LoadSink:
		return "load_sink"
	case PrefetchStreams:
		return "prefetch"
	case PersistQueue:
		return "persist_queue"
	case RestoreQueue:
		return "restore_queue"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func cacheTracksUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CacheTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Caching metadata for %d tracks...", total),
	}
}

func resolveStreamUpdate(t models.Track, quality models.StreamQuality) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveStream,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Resolving %s - %s (%s) on %s...", t.Artist, t.Title, quality, t.Source.DisplayName()),
	}
}

func loadSinkUpdate(h Handoff) ProgressUpdate {
	source := "fresh"
	if h.IsCached {
		source = "cached"
	}
	return ProgressUpdate{
		Phase:   LoadSink,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Playing %s - %s (%s url)", h.Track.Artist, h.Track.Title, source),
		Data:    h,
	}
}

func prefetchStartUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PrefetchStreams,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Prefetching %d upcoming stream urls...", total),
	}
}

func prefetchCompletedUpdate(step, total int, t models.Track) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PrefetchStreams,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s - %s", step, total, t.Artist, t.Title),
	}
}

func prefetchFailedUpdate(step, total int, t models.Track, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PrefetchStreams,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s - %s: %v", step, total, t.Artist, t.Title, err),
	}
}

func persistQueueUpdate(name string, s models.QueueSnapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PersistQueue,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Saved queue %q (%d tracks)", name, len(s.Order)),
		Data:    s,
	}
}

func restoreQueueUpdate(name string, s models.QueueSnapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RestoreQueue,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Restored queue %q (%d tracks, position %d)", name, len(s.Order), s.CurrentIndex+1),
		Data:    s,
	}
}
