package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/tasks"
)

// QueueView is the JSON form of a [queue.State].
type QueueView struct {
	Status      string             `json:"status"`
	ID          string             `json:"id,omitempty"`
	Source      models.SourceRef   `json:"source"`
	Index       int                `json:"index"`
	PlayMode    models.PlayMode    `json:"play_mode"`
	LoopMode    models.LoopMode    `json:"loop_mode"`
	RepeatCount int                `json:"repeat_count,omitempty"`
	RepeatsDone int                `json:"repeats_done,omitempty"`
	Current     *models.NowPlaying `json:"current,omitempty"`
	Tracks      []models.Track     `json:"tracks"`
}

// NowPlayingView is the response of every queue endpoint.
type NowPlayingView struct {
	Queue  QueueView           `json:"queue"`
	Stream *models.StreamURL   `json:"stream,omitempty"`
	Format *tasks.OutputFormat `json:"format,omitempty"`
}

func NewQueueView(st queue.State) QueueView {
	status := "empty"
	if st.Status == queue.Loaded {
		status = "loaded"
	}
	tracks := st.Tracks
	if tracks == nil {
		tracks = []models.Track{}
	}
	return QueueView{
		Status:      status,
		ID:          st.ID,
		Source:      st.Source,
		Index:       st.Index,
		PlayMode:    st.PlayMode,
		LoopMode:    st.LoopMode,
		RepeatCount: st.RepeatCount,
		RepeatsDone: st.RepeatsDone,
		Current:     st.Current,
		Tracks:      tracks,
	}
}

func NewNowPlayingView(np tasks.NowPlaying) NowPlayingView {
	return NowPlayingView{Queue: NewQueueView(np.Queue), Stream: np.Stream, Format: np.Format}
}

// RemoteSink accepts every handoff. The HTTP client receives the stream URL and plays it itself.
type RemoteSink struct{}

func (RemoteSink) Load(context.Context, tasks.Handoff) error { return nil }

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Status: status})
}
