package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up        key.Binding
	down      key.Binding
	enter     key.Binding
	add       key.Binding
	back      key.Binding
	search    key.Binding
	queue     key.Binding
	next      key.Binding
	previous  key.Binding
	shuffle   key.Binding
	loop      key.Binding
	reshuffle key.Binding
	quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		enter:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play")),
		add:       key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "enqueue")),
		back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		search:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		queue:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "now playing")),
		next:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next")),
		previous:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "previous")),
		shuffle:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "shuffle")),
		loop:      key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "loop")),
		reshuffle: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reshuffle")),
		quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.enter, k.add},
		{k.next, k.previous, k.shuffle, k.loop, k.reshuffle},
		{k.back, k.search, k.queue, k.quit},
	}
}
