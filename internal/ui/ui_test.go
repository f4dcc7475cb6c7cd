package ui

import (
	"context"
	"io"
	"math/rand/v2"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/resolver"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/desertthunder/sonar/internal/tasks"
	tu "github.com/desertthunder/sonar/internal/testing"
)

type nopSink struct{}

func (nopSink) Load(context.Context, tasks.Handoff) error { return nil }

func newTestModel(t *testing.T) (*Model, *tu.MockProvider) {
	t.Helper()
	logger := shared.NewLogger(io.Discard)

	p := tu.NewMockProvider(models.ProviderQobuz)
	p.SearchFunc = func(_ context.Context, query string, _ models.SearchType, _, _ int) (*models.SearchResults, error) {
		return tu.Results(3, tu.Tracks(models.ProviderQobuz, query+"-1", query+"-2", query+"-3")...), nil
	}
	registry := services.NewRegistry(p)

	agg := aggregator.New(registry, aggregator.Options{Logger: logger})
	res := resolver.New(registry, resolver.Options{Logger: logger})
	q := queue.New(queue.Options{Rand: rand.New(rand.NewPCG(3, 4)), Logger: logger})
	ctrl := tasks.NewController(q, res, nopSink{}, tasks.ControllerOpts{Ahead: -1, Logger: logger})
	t.Cleanup(ctrl.Close)

	m := NewModel(context.Background(), aggregator.NewSession(agg), ctrl, Options{})
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, p
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends msg and feeds back the message produced by the returned command, if any.
func press(t *testing.T, m *Model, msg tea.Msg) {
	t.Helper()
	_, cmd := m.Update(msg)
	if cmd == nil {
		return
	}
	if out, ok := cmd().(Msg); ok {
		m.Update(out)
	}
}

func TestSearchFlow(t *testing.T) {
	m, p := newTestModel(t)

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if p.SearchCalls() != 0 {
		t.Fatalf("an empty query should not search")
	}

	m.input.SetValue("daft")
	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.view != ResultsView {
		t.Fatalf("view = %d, want ResultsView", m.view)
	}
	if len(m.results.Items()) != 3 {
		t.Fatalf("expected 3 result items, got %d", len(m.results.Items()))
	}
	if !strings.Contains(m.View(), "Results for \"daft\"") {
		t.Errorf("results title missing from view")
	}

	press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.view != SearchView {
		t.Errorf("esc should return to the search box")
	}
}

func TestSupersededSearchIsIgnored(t *testing.T) {
	m, _ := newTestModel(t)
	m.view = SearchView

	m.Update(searchDoneMsg("old", nil, aggregator.ErrSuperseded))
	if m.err != nil || m.view != SearchView {
		t.Errorf("superseded search should leave the model alone, err=%v view=%d", m.err, m.view)
	}
}

func TestPlayFromResults(t *testing.T) {
	m, p := newTestModel(t)
	m.input.SetValue("daft")
	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	m.results.Select(1)
	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.view != NowPlayingView {
		t.Fatalf("view = %d, want NowPlayingView", m.view)
	}
	if m.err != nil {
		t.Fatalf("unexpected error: %v", m.err)
	}
	if m.state.Current == nil || m.state.Current.TrackID != "daft-2" {
		t.Fatalf("current = %+v, want daft-2", m.state.Current)
	}
	if m.state.Source.Kind != models.SourceSearch || m.state.Source.ID != "daft" {
		t.Errorf("source = %+v", m.state.Source)
	}
	if p.ResolveCalls() != 1 {
		t.Errorf("ResolveCalls = %d, want 1", p.ResolveCalls())
	}

	view := m.View()
	if !strings.Contains(view, "Artist daft-2 - Title daft-2") {
		t.Errorf("now playing header missing, got:\n%s", view)
	}
	if !strings.Contains(view, "Track 2/3") {
		t.Errorf("position missing, got:\n%s", view)
	}

	press(t, m, keyRunes("n"))
	if m.state.Current.TrackID != "daft-3" {
		t.Errorf("n should advance, current = %s", m.state.Current.TrackID)
	}
	press(t, m, keyRunes("p"))
	if m.state.Current.TrackID != "daft-2" {
		t.Errorf("p should go back, current = %s", m.state.Current.TrackID)
	}
}

func TestModeKeys(t *testing.T) {
	m, _ := newTestModel(t)
	m.controller.Load(queue.LoadRequest{Tracks: tu.Tracks(models.ProviderQobuz, "a", "b", "c", "d")})
	m.view = NowPlayingView

	press(t, m, keyRunes("s"))
	if m.state.PlayMode != models.PlayShuffle {
		t.Errorf("s should toggle shuffle, got %s", m.state.PlayMode)
	}
	current := m.state.Current.TrackID

	press(t, m, keyRunes("r"))
	if m.state.Current.TrackID != current {
		t.Errorf("reshuffle moved the current track")
	}

	press(t, m, keyRunes("l"))
	if m.state.LoopMode == models.LoopOnce {
		t.Errorf("l should change the loop mode")
	}
	if !strings.Contains(m.View(), "Play: shuffle") {
		t.Errorf("mode line missing")
	}
}

func TestEnqueueStartsPlaybackOnEmptyQueue(t *testing.T) {
	m, _ := newTestModel(t)
	m.input.SetValue("daft")
	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	press(t, m, keyRunes("a"))
	if m.state.Status != queue.Loaded || m.state.Current.TrackID != "daft-1" {
		t.Fatalf("enqueue on an empty queue should play, got %+v", m.state)
	}

	m.results.Select(2)
	press(t, m, keyRunes("a"))
	if m.state.Len() != 2 || m.state.Current.TrackID != "daft-1" {
		t.Errorf("second enqueue should only append, got %+v", m.state)
	}
}

func TestQueueSubscription(t *testing.T) {
	m, _ := newTestModel(t)

	m.controller.Load(queue.LoadRequest{Tracks: tu.Tracks(models.ProviderQobuz, "x", "y")})

	msg := m.waitForQueue()()
	out, ok := msg.(Msg)
	if !ok || out.kind != MsgQueueChanged {
		t.Fatalf("expected a queue change, got %#v", msg)
	}
	m.Update(out)
	if m.state.Len() != 2 || len(m.queueList.Items()) != 2 {
		t.Errorf("queue view not refreshed: %+v", m.state)
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(t)
	m.view = NowPlayingView

	_, cmd := m.Update(keyRunes("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("q should quit")
	}

	m.view = SearchView
	m.Update(keyRunes("q"))
	if m.input.Value() != "q" {
		t.Errorf("q should be typed into the search box, got %q", m.input.Value())
	}
}
