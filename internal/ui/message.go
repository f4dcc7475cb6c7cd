package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSearchDone MsgKind = iota
	MsgPlayback
	MsgQueueChanged
	MsgProgressUpdate
)

type searchDone struct {
	query   string
	results *models.SearchResults
	err     error
}

type playback struct {
	state queue.State
	err   error
}

// searchDoneMsg is the constructor for [MsgSearchDone]
func searchDoneMsg(query string, results *models.SearchResults, err error) Msg {
	return Msg{kind: MsgSearchDone, data: searchDone{query, results, err}}
}

// playbackMsg is the constructor for [MsgPlayback]
func playbackMsg(st queue.State, err error) Msg {
	return Msg{kind: MsgPlayback, data: playback{st, err}}
}

// queueChangedMsg is the constructor for [MsgQueueChanged]
func queueChangedMsg(st queue.State) Msg {
	return Msg{kind: MsgQueueChanged, data: st}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}
