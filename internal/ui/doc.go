// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI is a thin consumer of the search and playback engine:
//  1. [SearchView] : Type a query, run an aggregated search across every provider
//  2. [ResultsView] : Browse merged results; enter queues them all and plays the selection
//  3. [NowPlayingView] : Current track, modes and the queue in traversal order
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Queue transitions arrive through a [queue.Queue] subscription and playback progress through the controller's
// progress channel, so the view never polls.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, q) plus n/p/s/l/r for queue control,
// with contextual help displayed via charmbracelet/bubbles/help.
package ui
