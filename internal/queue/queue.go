// package queue implements the playback queue state machine: ordered or shuffled traversal,
// loop policy and the current position, independent of any UI or audio sink.
package queue

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrEmptyQueue      = errors.New("queue is empty")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrTrackMismatch   = errors.New("snapshot tracks do not match")
)

// Status is the coarse state of a queue.
type Status int

const (
	Empty Status = iota
	Loaded
)

func (s Status) String() string {
	if s == Loaded {
		return "loaded"
	}
	return "empty"
}

// State is the derived view published after every transition.
//
// Current is recomputed from the traversal order each time and is nil when Empty.
type State struct {
	Status      Status
	ID          string
	Source      models.SourceRef
	Index       int
	PlayMode    models.PlayMode
	LoopMode    models.LoopMode
	RepeatCount int
	RepeatsDone int
	Current     *models.NowPlaying
	Tracks      []models.Track
}

// Len returns the number of queued tracks.
func (s State) Len() int { return len(s.Tracks) }

// Upcoming returns the tracks after the current one in traversal order.
func (s State) Upcoming() []models.Track {
	if s.Status == Empty || s.Index+1 >= len(s.Tracks) {
		return nil
	}
	return s.Tracks[s.Index+1:]
}

// LoadRequest describes a new queue.
type LoadRequest struct {
	Source      models.SourceRef
	Tracks      []models.Track
	PlayMode    models.PlayMode
	LoopMode    models.LoopMode
	RepeatCount int
}

// Options configures a [Queue].
type Options struct {
	// Rand drives every shuffle. Tests pass a seeded source.
	Rand    *rand.Rand
	Now     func() time.Time
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Queue is the playback queue. It is safe for concurrent use but is meant to have a single owner.
type Queue struct {
	mu sync.Mutex

	id        string
	source    models.SourceRef
	createdAt time.Time

	// tracks is in load order; order holds positions into tracks in traversal order.
	tracks  []models.Track
	order   []int
	current int

	playMode    models.PlayMode
	loopMode    models.LoopMode
	repeatCount int
	repeatsDone int

	rng       *rand.Rand
	now       func() time.Time
	logger    *log.Logger
	metrics   *metrics.Metrics
	observers []observer
	nextObs   int
}

type observer struct {
	id int
	fn func(State)
}

// New returns an Empty queue.
func New(opts Options) *Queue {
	q := &Queue{
		playMode: models.PlayNormal,
		loopMode: models.LoopOnce,
		rng:      opts.Rand,
		now:      opts.Now,
		metrics:  opts.Metrics,
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if q.now == nil {
		q.now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	q.logger = shared.WithLogger(logger, "component", "queue")
	return q
}

// Subscribe registers fn to receive every transition. The returned func unregisters it.
func (q *Queue) Subscribe(fn func(State)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextObs
	q.nextObs++
	q.observers = append(q.observers, observer{id: id, fn: fn})
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.observers = slices.DeleteFunc(q.observers, func(o observer) bool { return o.id == id })
	}
}

// State returns the current derived view.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state()
}

// Current returns the track at the current position.
func (q *Queue) Current() (models.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.empty() {
		return models.Track{}, ErrEmptyQueue
	}
	return q.tracks[q.order[q.current]], nil
}

// Load replaces the queue. Loading zero tracks leaves it Empty.
func (q *Queue) Load(req LoadRequest) State {
	return q.transition("load", func() {
		q.reset()
		if len(req.Tracks) == 0 {
			return
		}
		q.id = uuid.NewString()
		q.source = req.Source
		q.createdAt = q.now()
		q.tracks = slices.Clone(req.Tracks)
		q.order = lo.Range(len(q.tracks))
		q.playMode = models.ParsePlayMode(string(req.PlayMode))
		q.setLoop(models.ParseLoopMode(string(req.LoopMode)), req.RepeatCount)
		if q.playMode == models.PlayShuffle {
			q.shuffle(q.order)
		}
	})
}

// Advance moves to the next track, applying the loop policy at the end of a pass.
// On an Empty queue it is a no-op.
func (q *Queue) Advance() State {
	return q.transition("advance", func() {
		if q.empty() {
			return
		}
		q.current++
		if q.current >= len(q.order) {
			q.endOfPass()
		}
	})
}

// Previous moves back one track, stopping at the first.
func (q *Queue) Previous() State {
	return q.transition("previous", func() {
		if q.empty() {
			return
		}
		q.current = max(q.current-1, 0)
	})
}

// JumpTo makes the track at traversal index i current.
func (q *Queue) JumpTo(i int) (State, error) {
	var err error
	st := q.transition("jump", func() {
		if err = q.checkIndex(i); err == nil {
			q.current = i
		}
	})
	return st, err
}

// Reshuffle re-randomizes the tracks after the current one. Played and current tracks stay put.
func (q *Queue) Reshuffle() State {
	return q.transition("reshuffle", func() {
		if q.empty() {
			return
		}
		q.shuffle(q.order[q.current+1:])
	})
}

// TogglePlayMode switches between normal and shuffle. The current track never moves.
func (q *Queue) TogglePlayMode() State {
	return q.transition("play_mode", func() {
		if q.playMode == models.PlayShuffle {
			q.playMode = models.PlayNormal
			if !q.empty() {
				slices.Sort(q.order[q.current+1:])
			}
			return
		}
		q.playMode = models.PlayShuffle
		if !q.empty() {
			q.shuffle(q.order[q.current+1:])
		}
	})
}

// ToggleLoopMode cycles once, infinite, repeat.
func (q *Queue) ToggleLoopMode() State {
	return q.transition("loop_mode", func() {
		switch q.loopMode {
		case models.LoopOnce:
			q.setLoop(models.LoopInfinite, q.repeatCount)
		case models.LoopInfinite:
			q.setLoop(models.LoopRepeat, q.repeatCount)
		default:
			q.setLoop(models.LoopOnce, q.repeatCount)
		}
	})
}

// SetLoopMode sets the loop policy. n is the repeat count for [models.LoopRepeat].
func (q *Queue) SetLoopMode(mode models.LoopMode, n int) State {
	return q.transition("loop_mode", func() { q.setLoop(mode, n) })
}

// Append adds tracks to the end of the queue. In shuffle mode they are scattered
// among the upcoming tracks. Appending to an Empty queue loads an ad hoc queue.
func (q *Queue) Append(tracks ...models.Track) State {
	return q.transition("append", func() {
		if len(tracks) == 0 {
			return
		}
		if q.empty() {
			q.reset()
			q.id = uuid.NewString()
			q.source = models.SourceRef{Kind: models.SourceAdhoc}
			q.createdAt = q.now()
		}
		for _, t := range tracks {
			pos := len(q.tracks)
			q.tracks = append(q.tracks, t)
			at := len(q.order)
			if q.playMode == models.PlayShuffle && len(q.order) > 0 {
				at = q.current + 1 + q.rng.IntN(len(q.order)-q.current)
			}
			q.order = slices.Insert(q.order, at, pos)
		}
	})
}

// Remove drops the track at traversal index i. Removing the current track moves to the next one.
func (q *Queue) Remove(i int) (State, error) {
	var err error
	st := q.transition("remove", func() {
		if err = q.checkIndex(i); err != nil {
			return
		}
		pos := q.order[i]
		q.tracks = slices.Delete(q.tracks, pos, pos+1)
		q.order = slices.Delete(q.order, i, i+1)
		for j, p := range q.order {
			if p > pos {
				q.order[j] = p - 1
			}
		}
		switch {
		case len(q.order) == 0:
			q.reset()
		case i < q.current:
			q.current--
		case i == q.current && q.current >= len(q.order):
			q.endOfPass()
		}
	})
	return st, err
}

// Move relocates the track at traversal index from to index to. The current track stays current.
func (q *Queue) Move(from, to int) (State, error) {
	var err error
	st := q.transition("move", func() {
		if err = q.checkIndex(from); err != nil {
			return
		}
		if err = q.checkIndex(to); err != nil {
			return
		}
		playing := q.order[q.current]
		pos := q.order[from]
		q.order = slices.Insert(slices.Delete(q.order, from, from+1), to, pos)
		q.current = slices.Index(q.order, playing)
	})
	return st, err
}

// Clear empties the queue. Play and loop modes are kept.
func (q *Queue) Clear() State {
	return q.transition("clear", q.reset)
}

// Snapshot returns the flat persistence record of the queue.
func (q *Queue) Snapshot() models.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := models.QueueSnapshot{
		ID:          q.id,
		Source:      q.source,
		Tracks:      lo.Map(q.tracks, func(t models.Track, _ int) models.TrackRef { return t.Ref() }),
		Order:       slices.Clone(q.order),
		PlayMode:    q.playMode,
		LoopMode:    q.loopMode,
		RepeatCount: q.repeatCount,
		RepeatsDone: q.repeatsDone,
		CreatedAt:   q.createdAt,
	}
	if s.Order == nil {
		s.Order = []int{}
	}
	if !q.empty() {
		s.CurrentIndex = q.current
		np := models.NowPlayingFrom(q.tracks[q.order[q.current]])
		s.Current = &np
	}
	return s
}

// Restore replaces the queue with a snapshot. tracks carries the metadata for
// s.Tracks, position by position.
func (q *Queue) Restore(s models.QueueSnapshot, tracks []models.Track) (State, error) {
	if len(tracks) != len(s.Tracks) {
		return q.State(), fmt.Errorf("%w: %d refs, %d tracks", ErrTrackMismatch, len(s.Tracks), len(tracks))
	}
	for i, ref := range s.Tracks {
		if tracks[i].Ref() != ref {
			return q.State(), fmt.Errorf("%w: position %d is %s, want %s", ErrTrackMismatch, i, tracks[i].Ref(), ref)
		}
	}
	if err := validOrder(s.Order, len(s.Tracks)); err != nil {
		return q.State(), err
	}
	if len(s.Order) > 0 && (s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Order)) {
		return q.State(), fmt.Errorf("%w: current index %d", ErrIndexOutOfRange, s.CurrentIndex)
	}

	st := q.transition("restore", func() {
		q.reset()
		q.id = s.ID
		q.source = s.Source
		q.createdAt = s.CreatedAt
		q.tracks = slices.Clone(tracks)
		q.order = slices.Clone(s.Order)
		q.current = s.CurrentIndex
		q.playMode = models.ParsePlayMode(string(s.PlayMode))
		q.setLoop(s.LoopMode, s.RepeatCount)
		if q.loopMode != models.LoopRepeat {
			q.repeatCount = s.RepeatCount
		}
		q.repeatsDone = max(s.RepeatsDone, 0)
	})
	return st, nil
}

func validOrder(order []int, n int) error {
	seen := make(map[int]bool, len(order))
	for _, p := range order {
		if p < 0 || p >= n || seen[p] {
			return fmt.Errorf("%w: order entry %d", ErrIndexOutOfRange, p)
		}
		seen[p] = true
	}
	return nil
}

// transition runs fn under the lock, then publishes the resulting state.
func (q *Queue) transition(kind string, fn func()) State {
	q.mu.Lock()
	fn()
	st := q.state()
	observers := slices.Clone(q.observers)
	q.mu.Unlock()

	q.metrics.QueueTransition(kind)
	q.logger.Debug("queue transition", "kind", kind, "status", st.Status, "index", st.Index, "len", st.Len())
	for _, o := range observers {
		o.fn(st)
	}
	return st
}

func (q *Queue) state() State {
	st := State{
		Status:      Empty,
		ID:          q.id,
		Source:      q.source,
		PlayMode:    q.playMode,
		LoopMode:    q.loopMode,
		RepeatCount: q.repeatCount,
		RepeatsDone: q.repeatsDone,
		Tracks:      lo.Map(q.order, func(p int, _ int) models.Track { return q.tracks[p] }),
	}
	if q.empty() {
		return st
	}
	st.Status = Loaded
	st.Index = q.current
	np := models.NowPlayingFrom(q.tracks[q.order[q.current]])
	st.Current = &np
	return st
}

func (q *Queue) empty() bool { return len(q.order) == 0 }

// endOfPass applies the loop policy once the index has run past the last track.
func (q *Queue) endOfPass() {
	switch q.loopMode {
	case models.LoopInfinite:
	case models.LoopRepeat:
		if q.repeatsDone >= q.repeatCount {
			q.reset()
			return
		}
		q.repeatsDone++
	default:
		q.reset()
		return
	}
	q.current = 0
	if q.playMode == models.PlayShuffle {
		q.shuffle(q.order)
	}
}

// reset drops every track. Modes survive so the next load inherits them unless overridden.
func (q *Queue) reset() {
	q.id = ""
	q.source = models.SourceRef{}
	q.createdAt = time.Time{}
	q.tracks = nil
	q.order = nil
	q.current = 0
	q.repeatsDone = 0
}

func (q *Queue) setLoop(mode models.LoopMode, n int) {
	q.loopMode = models.ParseLoopMode(string(mode))
	q.repeatsDone = 0
	if q.loopMode == models.LoopRepeat {
		q.repeatCount = max(n, 1)
	}
}

func (q *Queue) shuffle(s []int) {
	q.rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func (q *Queue) checkIndex(i int) error {
	if q.empty() {
		return ErrEmptyQueue
	}
	if i < 0 || i >= len(q.order) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(q.order))
	}
	return nil
}
