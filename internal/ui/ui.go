package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/formatter"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SearchView ViewState = iota
	ResultsView
	NowPlayingView
)

// Searcher runs searches. Implemented by [aggregator.Session], which cancels a search when the next one starts.
type Searcher interface {
	Search(ctx context.Context, req aggregator.Request) (*models.SearchResults, error)
}

// Options tunes searches and progress display. Zero values select the aggregator defaults.
type Options struct {
	Type      models.SearchType
	Limit     int
	Providers []models.ProviderID
	Progress  <-chan tasks.ProgressUpdate
}

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	view        ViewState
	searcher    Searcher
	controller  *tasks.Controller
	opts        Options
	width       int
	height      int
	input       textinput.Model
	results     list.Model
	lastResults *models.SearchResults
	queueList   list.Model
	query       string
	searching   bool
	state       queue.State
	progress    tasks.ProgressUpdate
	err         error
	help        help.Model
	keys        keyMap
	queueCh     chan queue.State
	unsubscribe func()
}

// NewModel creates a new TUI model with the provided dependencies.
//
// It subscribes to the controller's queue. Call [Model.Close] when the program exits.
func NewModel(ctx context.Context, searcher Searcher, controller *tasks.Controller, opts Options) *Model {
	input := textinput.New()
	input.Placeholder = "Search tracks and albums"
	input.CharLimit = 200
	input.Focus()

	m := &Model{
		ctx:        ctx,
		view:       SearchView,
		searcher:   searcher,
		controller: controller,
		opts:       opts,
		input:      input,
		results:    newList("Results"),
		queueList:  newList("Queue"),
		help:       help.New(),
		keys:       newKeyMap(),
		queueCh:    make(chan queue.State, 64),
	}
	m.setState(controller.Queue().State())
	m.unsubscribe = controller.Queue().Subscribe(func(st queue.State) {
		select {
		case m.queueCh <- st:
		default:
		}
	})
	return m
}

func newList(title string) list.Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	return l
}

// Close releases the queue subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Init starts the cursor blink and the queue and progress listeners.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForQueue(), m.waitForProgress())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.results.SetSize(msg.Width-4, msg.Height-8)
		m.queueList.SetSize(msg.Width-4, msg.Height-14)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SearchView:
			return m.handleSearchKeys(msg)
		case ResultsView:
			return m.handleResultsKeys(msg)
		case NowPlayingView:
			return m.handleNowPlayingKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateActive(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSearchDone:
		d := msg.data.(searchDone)
		if errors.Is(d.err, aggregator.ErrSuperseded) {
			return m, nil
		}
		m.searching = false
		if d.err != nil {
			m.err = d.err
			return m, nil
		}
		m.err = nil
		m.query = d.query
		m.lastResults = d.results
		cmd := m.results.SetItems(trackItems(d.results.Tracks))
		m.results.Title = fmt.Sprintf("Results for %q (%d of %d)", d.query, len(d.results.Tracks), d.results.Total)
		m.results.Select(0)
		m.input.Blur()
		m.view = ResultsView
		return m, cmd

	case MsgPlayback:
		d := msg.data.(playback)
		m.err = d.err
		m.setState(d.state)
		return m, nil

	case MsgQueueChanged:
		m.setState(msg.data.(queue.State))
		return m, m.waitForQueue()

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case SearchView:
		body = m.renderSearch()
	case ResultsView:
		body = m.renderResults()
	case NowPlayingView:
		body = m.renderNowPlaying()
	}
	if m.err != nil {
		body += "\n" + styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}
	return body
}

func (m *Model) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.lastResults != nil {
			m.input.Blur()
			m.view = ResultsView
		}
		return m, nil
	case "tab":
		m.input.Blur()
		m.view = NowPlayingView
		return m, nil
	case "enter":
		query := strings.TrimSpace(m.input.Value())
		if query == "" {
			return m, nil
		}
		m.searching = true
		return m, m.search(query)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleResultsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "/":
		m.view = SearchView
		return m, m.input.Focus()
	case "tab":
		m.view = NowPlayingView
		return m, nil
	case "enter":
		if m.lastResults == nil || len(m.lastResults.Tracks) == 0 {
			return m, nil
		}
		m.view = NowPlayingView
		return m, m.playResults(m.lastResults.Tracks, m.results.Index())
	case "a":
		if selected, ok := m.results.SelectedItem().(trackItem); ok {
			return m, m.enqueue(selected.track)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.results, cmd = m.results.Update(msg)
	return m, cmd
}

func (m *Model) handleNowPlayingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	q := m.controller.Queue()
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.lastResults != nil {
			m.view = ResultsView
			return m, nil
		}
		m.view = SearchView
		return m, m.input.Focus()
	case "/":
		m.view = SearchView
		return m, m.input.Focus()
	case "n":
		return m, m.step(m.controller.Next)
	case "p":
		return m, m.step(m.controller.Previous)
	case "s":
		m.setState(q.TogglePlayMode())
		return m, nil
	case "l":
		m.setState(q.ToggleLoopMode())
		return m, nil
	case "r":
		m.setState(q.Reshuffle())
		return m, nil
	case "enter":
		i := m.queueList.Index()
		return m, m.step(func(ctx context.Context) (queue.State, error) { return m.controller.JumpTo(ctx, i) })
	}

	var cmd tea.Cmd
	m.queueList, cmd = m.queueList.Update(msg)
	return m, cmd
}

func (m *Model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case SearchView:
		m.input, cmd = m.input.Update(msg)
	case ResultsView:
		m.results, cmd = m.results.Update(msg)
	case NowPlayingView:
		m.queueList, cmd = m.queueList.Update(msg)
	}
	return m, cmd
}

func (m *Model) setState(st queue.State) {
	m.state = st
	m.queueList.SetItems(queueItems(st.Tracks, st.Index))
	if st.Status == queue.Loaded {
		m.queueList.Select(st.Index)
	}
}

func (m *Model) search(query string) tea.Cmd {
	req := aggregator.Request{
		Query:     query,
		Type:      m.opts.Type,
		Limit:     m.opts.Limit,
		Providers: m.opts.Providers,
	}
	return func() tea.Msg {
		res, err := m.searcher.Search(m.ctx, req)
		return searchDoneMsg(query, res, err)
	}
}

// playResults queues every result and plays the one at i. The current play and loop modes carry over.
func (m *Model) playResults(tracks []models.Track, i int) tea.Cmd {
	req := queue.LoadRequest{
		Source:      models.SourceRef{Kind: models.SourceSearch, ID: m.query},
		Tracks:      tracks,
		PlayMode:    models.PlayNormal,
		LoopMode:    m.state.LoopMode,
		RepeatCount: m.state.RepeatCount,
	}
	shuffle := m.state.PlayMode == models.PlayShuffle
	return func() tea.Msg {
		m.controller.Load(req)
		q := m.controller.Queue()
		if _, err := q.JumpTo(i); err != nil {
			return playbackMsg(q.State(), err)
		}
		if shuffle {
			q.TogglePlayMode()
		}
		_, err := m.controller.Play(m.ctx)
		return playbackMsg(q.State(), err)
	}
}

// enqueue appends t and starts playback when the queue was empty.
func (m *Model) enqueue(t models.Track) tea.Cmd {
	return func() tea.Msg {
		wasEmpty := m.controller.Queue().State().Status == queue.Empty
		st := m.controller.Enqueue(t)
		if !wasEmpty {
			return playbackMsg(st, nil)
		}
		_, err := m.controller.Play(m.ctx)
		return playbackMsg(m.controller.Queue().State(), err)
	}
}

func (m *Model) step(move func(context.Context) (queue.State, error)) tea.Cmd {
	return func() tea.Msg {
		st, err := move(m.ctx)
		return playbackMsg(st, err)
	}
}

func (m *Model) waitForQueue() tea.Cmd {
	return func() tea.Msg {
		select {
		case st := <-m.queueCh:
			return queueChangedMsg(st)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	if m.opts.Progress == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case update, ok := <-m.opts.Progress:
			if !ok {
				return nil
			}
			return progressUpdateMsg(update)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) renderSearch() string {
	title := styles.title.Render("sonar")
	status := ""
	if m.searching {
		status = styles.help.Render("Searching...")
	}
	enter := key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "search"))
	quit := key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit"))
	helpView := m.help.ShortHelpView([]key.Binding{enter, m.keys.queue, quit})
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, m.input.View(), status, helpView)
}

func (m *Model) renderResults() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.add, m.keys.search, m.keys.queue, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.results.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderNowPlaying() string {
	np := m.controller.NowPlaying()

	var b strings.Builder
	b.WriteString(styles.title.Render("Now Playing"))
	b.WriteString("\n")
	b.WriteString(renderCurrent(np))
	b.WriteString("\n")
	b.WriteString(styles.help.Render(modeLine(np.Queue)))
	b.WriteString("\n")
	if m.progress.Message != "" {
		b.WriteString(styles.help.Render(m.progress.Message))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.queueList.View())

	helpKeys := []key.Binding{m.keys.next, m.keys.previous, m.keys.shuffle, m.keys.loop, m.keys.reshuffle, m.keys.back, m.keys.quit}
	fmt.Fprintf(&b, "\n\n%s", m.help.ShortHelpView(helpKeys))
	return b.String()
}

func renderCurrent(np tasks.NowPlaying) string {
	c := np.Queue.Current
	if c == nil {
		return styles.warn.Render("Nothing playing")
	}

	lines := []string{
		fmt.Sprintf("%s - %s", c.Artist, c.Title),
		fmt.Sprintf("%s • %s", c.Album, formatter.FormatDuration(c.Duration)),
	}

	source := c.Provider.DisplayName()
	switch {
	case np.Format != nil:
		f := np.Format
		quality := formatter.FormatQuality(models.Quality{Bitrate: f.Bitrate, SampleRate: f.SampleRate, BitDepth: f.BitDepth, Label: f.Codec})
		if f.Codec != "" && quality != f.Codec {
			quality = fmt.Sprintf("%s %s", f.Codec, quality)
		}
		source = fmt.Sprintf("%s • %s", source, quality)
	case np.Stream != nil:
		origin := "fresh"
		if np.Stream.IsCached {
			origin = "cached"
		}
		source = fmt.Sprintf("%s • %s (%s url)", source, np.Stream.Quality, origin)
	}
	lines = append(lines, source)

	return styles.playing.Render(strings.Join(lines, "\n"))
}

func modeLine(st queue.State) string {
	loop := string(st.LoopMode)
	if st.LoopMode == models.LoopRepeat {
		loop = fmt.Sprintf("repeat (%d/%d)", st.RepeatsDone, st.RepeatCount)
	}
	pos := "-"
	if st.Status == queue.Loaded {
		pos = fmt.Sprintf("%d/%d", st.Index+1, st.Len())
	}
	return fmt.Sprintf("Track %s • Play: %s • Loop: %s", pos, st.PlayMode, loop)
}
