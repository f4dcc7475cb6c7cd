package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/resolver"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	"github.com/desertthunder/sonar/internal/tasks"
)

const maxBodyBytes = 1 << 20

// Searcher runs aggregated searches. Implemented by [aggregator.Aggregator].
type Searcher interface {
	Search(ctx context.Context, req aggregator.Request) (*models.SearchResults, error)
}

// StreamResolver resolves stream URLs. Implemented by [resolver.Resolver].
type StreamResolver interface {
	Resolve(ctx context.Context, trackID string, provider models.ProviderID, quality models.StreamQuality) (*models.StreamURL, error)
}

// API serves the JSON endpoints.
type API struct {
	Searcher     Searcher
	Resolver     StreamResolver
	Controller   *tasks.Controller
	Registry     services.Registry
	Metrics      *metrics.Metrics
	DefaultLimit int
	Quality      models.StreamQuality
	Logger       *log.Logger
}

// Register mounts every route on r.
func (a *API) Register(r *BasicRouter) {
	r.HandleFunc(http.MethodGet, "/api/search", a.search)
	r.HandleFunc(http.MethodGet, "/api/stream", a.stream)

	r.HandleFunc(http.MethodGet, "/api/queue", a.showQueue)
	r.HandleFunc(http.MethodPost, "/api/queue", a.loadQueue)
	r.HandleFunc(http.MethodDelete, "/api/queue", a.clearQueue)
	r.HandleFunc(http.MethodPost, "/api/queue/next", a.step(a.Controller.Next))
	r.HandleFunc(http.MethodPost, "/api/queue/previous", a.step(a.Controller.Previous))
	r.HandleFunc(http.MethodPost, "/api/queue/jump", a.jump)
	r.HandleFunc(http.MethodPost, "/api/queue/shuffle", a.shuffle)
	r.HandleFunc(http.MethodPost, "/api/queue/loop", a.loop)
	r.HandleFunc(http.MethodPost, "/api/queue/save", a.saveQueue)
	r.HandleFunc(http.MethodPost, "/api/queue/restore", a.restoreQueue)

	r.Handler(&HealthHandler{Providers: a.Registry.IDs()})
	if a.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", a.Metrics.Handler())
	}
}

// NewHandler builds the full API handler with logging and panic recovery.
func NewHandler(a *API) http.Handler {
	logger := a.Logger
	if logger == nil {
		logger = log.Default()
	}
	r := NewBasicRouter()
	r.Use(Recover(logger), Logging(logger))
	a.Register(r)
	return r
}

func (a *API) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: q", shared.ErrMissingArgument))
		return
	}

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(q.Get("limit"), a.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	providers, err := ParseProviders(q.Get("provider"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.Searcher.Search(r.Context(), aggregator.Request{
		Query:     query,
		Type:      models.ParseSearchType(q.Get("type")),
		Offset:    offset,
		Limit:     limit,
		Providers: providers,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trackID := q.Get("track_id")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: track_id", shared.ErrMissingArgument))
		return
	}
	provider := models.ParseProviderID(q.Get("provider"))
	if !provider.Known() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: provider %q", shared.ErrInvalidArgument, q.Get("provider")))
		return
	}
	quality := a.Quality
	if s := q.Get("quality"); s != "" {
		quality = models.ParseStreamQuality(s)
	}

	stream, err := a.Resolver.Resolve(r.Context(), trackID, provider, quality)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

// LoadBody is the body of POST /api/queue.
//
// Tracks are queued as given. Without tracks, Source names an album, playlist or single track to fetch.
type LoadBody struct {
	Source      *models.SourceRef `json:"source,omitempty"`
	Tracks      []models.Track    `json:"tracks,omitempty"`
	PlayMode    string            `json:"play_mode,omitempty"`
	LoopMode    string            `json:"loop_mode,omitempty"`
	RepeatCount int               `json:"repeat_count,omitempty"`
	Append      bool              `json:"append,omitempty"`
	Play        bool              `json:"play,omitempty"`
}

func (a *API) loadQueue(w http.ResponseWriter, r *http.Request) {
	var body LoadBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	source := models.SourceRef{Kind: models.SourceAdhoc}
	if body.Source != nil {
		source = *body.Source
	}

	tracks := body.Tracks
	if len(tracks) == 0 {
		if body.Source == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: tracks or source", shared.ErrMissingArgument))
			return
		}
		fetched, err := tasks.FetchSource(r.Context(), a.Registry, source)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		tracks = fetched
	}

	if body.Append {
		a.Controller.Enqueue(tracks...)
	} else {
		a.Controller.Load(queue.LoadRequest{
			Source:      source,
			Tracks:      tracks,
			PlayMode:    models.ParsePlayMode(body.PlayMode),
			LoopMode:    models.ParseLoopMode(body.LoopMode),
			RepeatCount: body.RepeatCount,
		})
	}

	if body.Play {
		if _, err := a.Controller.Play(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

func (a *API) showQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

func (a *API) clearQueue(w http.ResponseWriter, _ *http.Request) {
	a.Controller.Clear()
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

func (a *API) step(move func(context.Context) (queue.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := move(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, a.nowPlaying())
	}
}

func (a *API) jump(w http.ResponseWriter, r *http.Request) {
	i, err := intParam(r.URL.Query().Get("index"), -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := a.Controller.JumpTo(r.Context(), i); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

// shuffle toggles the play mode, or reshuffles the upcoming tracks with ?reshuffle=true.
func (a *API) shuffle(w http.ResponseWriter, r *http.Request) {
	q := a.Controller.Queue()
	if reshuffle, _ := strconv.ParseBool(r.URL.Query().Get("reshuffle")); reshuffle {
		q.Reshuffle()
	} else {
		q.TogglePlayMode()
	}
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

// loop cycles the loop mode, or sets it with ?mode=repeat&count=N.
func (a *API) loop(w http.ResponseWriter, r *http.Request) {
	q := a.Controller.Queue()
	params := r.URL.Query()
	mode := params.Get("mode")
	if mode == "" {
		q.ToggleLoopMode()
		writeJSON(w, http.StatusOK, a.nowPlaying())
		return
	}

	count, err := intParam(params.Get("count"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q.SetLoopMode(models.ParseLoopMode(mode), count)
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

func (a *API) saveQueue(w http.ResponseWriter, r *http.Request) {
	name := queueName(r)
	if err := a.Controller.Save(name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

func (a *API) restoreQueue(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Controller.Restore(queueName(r)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.nowPlaying())
}

func (a *API) nowPlaying() NowPlayingView {
	return NewNowPlayingView(a.Controller.NowPlaying())
}

// HealthHandler answers liveness probes with the registered providers.
type HealthHandler struct {
	Providers []models.ProviderID
}

func (h *HealthHandler) Routes() []string { return []string{"GET /healthz"} }

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": h.Providers,
		"time":      time.Now().UTC(),
	})
}

// ParseProviders parses a comma separated provider list. An empty string selects every provider.
func ParseProviders(s string) ([]models.ProviderID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []models.ProviderID
	for _, part := range strings.Split(s, ",") {
		id := models.ParseProviderID(part)
		if !id.Known() {
			return nil, fmt.Errorf("%w: unknown provider %q", shared.ErrInvalidArgument, strings.TrimSpace(part))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func queueName(r *http.Request) string {
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	return "default"
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", shared.ErrInvalidArgument, s)
	}
	return n, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, queue.ErrIndexOutOfRange),
		errors.Is(err, aggregator.ErrNoProviders):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrQueueNotFound),
		errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrEmptyQueue):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, aggregator.ErrAllProvidersFailed),
		errors.Is(err, services.ErrNetwork),
		errors.Is(err, services.ErrMalformed):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var _ StreamResolver = (*resolver.Resolver)(nil)
var _ Searcher = (*aggregator.Aggregator)(nil)
