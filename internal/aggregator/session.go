package aggregator

import (
	"context"
	"errors"
	"sync"

	"github.com/desertthunder/sonar/internal/models"
)

// ErrSuperseded is returned to a search that was cancelled by a newer one.
var ErrSuperseded = errors.New("search superseded")

// Searcher runs one aggregated search.
type Searcher interface {
	Search(ctx context.Context, req Request) (*models.SearchResults, error)
}

// Session serializes interactive searches: starting a search cancels the one in flight.
//
// Every goroutine of the cancelled search has exited by the time its Search returns.
type Session struct {
	searcher Searcher

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	seq    uint64
}

func NewSession(s Searcher) *Session {
	return &Session{searcher: s}
}

// Search cancels any in-flight search and runs req.
func (s *Session) Search(ctx context.Context, req Request) (*models.SearchResults, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel(ErrSuperseded)
	}
	s.cancel = cancel
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel(nil)
	}()

	res, err := s.searcher.Search(ctx, req)
	if err != nil && errors.Is(context.Cause(ctx), ErrSuperseded) {
		return nil, ErrSuperseded
	}
	return res, err
}

// Cancel aborts the in-flight search, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(context.Canceled)
		s.cancel = nil
	}
}
