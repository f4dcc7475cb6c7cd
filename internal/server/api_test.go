package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/sonar/internal/aggregator"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/queue"
	"github.com/desertthunder/sonar/internal/repositories"
	"github.com/desertthunder/sonar/internal/resolver"
	"github.com/desertthunder/sonar/internal/services"
	"github.com/desertthunder/sonar/internal/shared"
	tu "github.com/desertthunder/sonar/internal/testing"
	"github.com/desertthunder/sonar/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	handler  http.Handler
	qobuz    *tu.MockProvider
	spotify  *tu.MockProvider
	resolver *resolver.Resolver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := shared.NewLogger(io.Discard)
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)

	qobuz := tu.NewMockProvider(models.ProviderQobuz)
	qobuz.SearchFunc = func(_ context.Context, query string, _ models.SearchType, _, _ int) (*models.SearchResults, error) {
		return tu.Results(2, tu.Tracks(models.ProviderQobuz, query+"-1", query+"-2")...), nil
	}
	qobuz.AlbumFunc = func(_ context.Context, id string) (*models.Album, error) {
		return &models.Album{ID: id, Tracks: tu.Tracks(models.ProviderQobuz, "a1", "a2", "a3"), Source: models.ProviderQobuz}, nil
	}
	spotify := tu.NewMockProvider(models.ProviderSpotify)
	spotify.SearchFunc = func(_ context.Context, query string, _ models.SearchType, _, _ int) (*models.SearchResults, error) {
		return tu.Results(5, tu.Track(models.ProviderSpotify, query+"-s")), nil
	}
	registry := services.NewRegistry(qobuz, spotify)

	agg := aggregator.New(registry, aggregator.Options{Timeout: time.Second, Logger: logger, Metrics: m})
	res := resolver.New(registry, resolver.Options{Logger: logger, Metrics: m})
	q := queue.New(queue.Options{Rand: rand.New(rand.NewPCG(1, 2)), Logger: logger, Metrics: m})

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	cache := repositories.NewTrackCacheAdapter(repositories.NewTrackRepository(db))

	ctrl := tasks.NewController(q, res, RemoteSink{}, tasks.ControllerOpts{
		Ahead:    -1,
		Cache:    cache,
		Hydrator: cache,
		Store:    repositories.NewQueueRepository(db),
		Logger:   logger,
	})
	t.Cleanup(ctrl.Close)

	api := &API{
		Searcher:     agg,
		Resolver:     res,
		Controller:   ctrl,
		Registry:     registry,
		Metrics:      m,
		DefaultLimit: 20,
		Quality:      models.QualityLossless,
		Logger:       logger,
	}
	return &testServer{handler: NewHandler(api), qobuz: qobuz, spotify: spotify, resolver: res}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("merges providers in priority order", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/search?q=daft&limit=5", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		res := decode[models.SearchResults](t, rec)
		if len(res.Tracks) != 3 {
			t.Fatalf("expected 3 tracks, got %d", len(res.Tracks))
		}
		if res.Tracks[0].Source != models.ProviderQobuz || res.Tracks[2].Source != models.ProviderSpotify {
			t.Errorf("unexpected merge order: %+v", res.Tracks)
		}
		if res.Total != 7 {
			t.Errorf("Total = %d, want 7", res.Total)
		}
	})

	t.Run("provider filter", func(t *testing.T) {
		before := s.qobuz.SearchCalls()
		rec := s.do(t, http.MethodGet, "/api/search?q=daft&provider=spotify", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if s.qobuz.SearchCalls() != before {
			t.Errorf("qobuz should not be searched")
		}
	})

	tc := []struct {
		name   string
		target string
		status int
	}{
		{"missing query", "/api/search", http.StatusBadRequest},
		{"bad limit", "/api/search?q=x&limit=ten", http.StatusBadRequest},
		{"unknown provider", "/api/search?q=x&provider=tidal", http.StatusBadRequest},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if body := decode[errorBody](t, rec); body.Error == "" {
				t.Errorf("error body missing message")
			}
		})
	}

	t.Run("all providers failing is a bad gateway", func(t *testing.T) {
		s := newTestServer(t)
		fail := func(context.Context, string, models.SearchType, int, int) (*models.SearchResults, error) {
			return nil, &services.ProviderError{Kind: services.KindNetwork, Op: "search"}
		}
		s.qobuz.SearchFunc = fail
		s.spotify.SearchFunc = fail

		rec := s.do(t, http.MethodGet, "/api/search?q=x", "")
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})
}

func TestStreamEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/stream?track_id=t1&provider=qobuz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	first := decode[models.StreamURL](t, rec)
	if first.IsCached || first.Quality != models.QualityLossless {
		t.Errorf("unexpected first resolution: %+v", first)
	}

	second := decode[models.StreamURL](t, s.do(t, http.MethodGet, "/api/stream?track_id=t1&provider=qobuz", ""))
	if !second.IsCached {
		t.Errorf("second resolution should be cached")
	}
	if s.qobuz.ResolveCalls() != 1 {
		t.Errorf("ResolveCalls = %d, want 1", s.qobuz.ResolveCalls())
	}

	if rec := s.do(t, http.MethodGet, "/api/stream?provider=qobuz", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing track id: status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/stream?track_id=t1&provider=nope", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown provider: status = %d", rec.Code)
	}

	s.qobuz.ResolveFunc = func(context.Context, string, models.StreamQuality) (*services.StreamGrant, error) {
		return nil, &services.ProviderError{Provider: models.ProviderQobuz, Op: "resolve", Kind: services.KindAuthExpired}
	}
	if rec := s.do(t, http.MethodGet, "/api/stream?track_id=t2&provider=qobuz", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("auth expired: status = %d", rec.Code)
	}
}

func TestQueueEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("empty queue", func(t *testing.T) {
		view := decode[NowPlayingView](t, s.do(t, http.MethodGet, "/api/queue", ""))
		if view.Queue.Status != "empty" || view.Queue.Current != nil {
			t.Errorf("unexpected view %+v", view.Queue)
		}
		if rec := s.do(t, http.MethodPost, "/api/queue/next", ""); rec.Code != http.StatusOK {
			t.Errorf("next on an empty queue: status = %d", rec.Code)
		}
	})

	t.Run("load tracks and play", func(t *testing.T) {
		body := `{"tracks":[{"id":"t1","title":"One","source":"qobuz"},{"id":"t2","title":"Two","source":"qobuz"}],"loop_mode":"once","play":true}`
		rec := s.do(t, http.MethodPost, "/api/queue", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		view := decode[NowPlayingView](t, rec)
		if view.Queue.Status != "loaded" || view.Queue.Current.TrackID != "t1" {
			t.Errorf("unexpected queue %+v", view.Queue)
		}
		if view.Stream == nil || !strings.Contains(view.Stream.URL, "/qobuz/t1") {
			t.Errorf("expected a stream for t1, got %+v", view.Stream)
		}
	})

	t.Run("next then end of queue", func(t *testing.T) {
		view := decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue/next", ""))
		if view.Queue.Current == nil || view.Queue.Current.TrackID != "t2" {
			t.Fatalf("expected t2, got %+v", view.Queue.Current)
		}
		view = decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue/next", ""))
		if view.Queue.Status != "empty" || view.Stream != nil {
			t.Errorf("queue should be exhausted, got %+v", view)
		}
	})

	t.Run("load album source", func(t *testing.T) {
		body := `{"source":{"kind":"album","id":"alb","provider":"qobuz"},"play_mode":"shuffle","loop_mode":"infinite"}`
		view := decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue", body))
		if len(view.Queue.Tracks) != 3 {
			t.Fatalf("expected 3 album tracks, got %d", len(view.Queue.Tracks))
		}
		if view.Queue.PlayMode != models.PlayShuffle || view.Queue.LoopMode != models.LoopInfinite {
			t.Errorf("modes not applied: %+v", view.Queue)
		}
		if view.Queue.Source.Kind != models.SourceAlbum {
			t.Errorf("source = %+v", view.Queue.Source)
		}
	})

	t.Run("append", func(t *testing.T) {
		body := `{"tracks":[{"id":"extra","source":"spotify"}],"append":true}`
		view := decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue", body))
		if len(view.Queue.Tracks) != 4 {
			t.Errorf("expected 4 tracks after append, got %d", len(view.Queue.Tracks))
		}
	})

	t.Run("shuffle and loop toggles", func(t *testing.T) {
		view := decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue/shuffle", ""))
		if view.Queue.PlayMode != models.PlayNormal {
			t.Errorf("play mode = %s, want normal", view.Queue.PlayMode)
		}
		view = decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue/loop?mode=repeat&count=2", ""))
		if view.Queue.LoopMode != models.LoopRepeat || view.Queue.RepeatCount != 2 {
			t.Errorf("loop = %s x%d", view.Queue.LoopMode, view.Queue.RepeatCount)
		}
		view = decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue/loop", ""))
		if view.Queue.LoopMode == models.LoopRepeat {
			t.Errorf("toggle should leave repeat mode")
		}
		if rec := s.do(t, http.MethodPost, "/api/queue/loop?mode=repeat&count=x", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("bad count: status = %d", rec.Code)
		}
	})

	t.Run("jump", func(t *testing.T) {
		view := decode[NowPlayingView](t, s.do(t, http.MethodPost, "/api/queue/jump?index=2", ""))
		if view.Queue.Index != 2 || view.Stream == nil {
			t.Errorf("jump did not play index 2: %+v", view.Queue)
		}
		if rec := s.do(t, http.MethodPost, "/api/queue/jump?index=99", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("out of range: status = %d", rec.Code)
		}
	})

	t.Run("save, clear and restore", func(t *testing.T) {
		before := decode[NowPlayingView](t, s.do(t, http.MethodGet, "/api/queue", ""))
		if rec := s.do(t, http.MethodPost, "/api/queue/save?name=mix", ""); rec.Code != http.StatusOK {
			t.Fatalf("save: status = %d, body = %s", rec.Code, rec.Body.String())
		}

		cleared := decode[NowPlayingView](t, s.do(t, http.MethodDelete, "/api/queue", ""))
		if cleared.Queue.Status != "empty" {
			t.Fatalf("clear failed: %+v", cleared.Queue)
		}

		rec := s.do(t, http.MethodPost, "/api/queue/restore?name=mix", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("restore: status = %d, body = %s", rec.Code, rec.Body.String())
		}
		after := decode[NowPlayingView](t, rec)
		if after.Queue.ID != before.Queue.ID || after.Queue.Index != before.Queue.Index {
			t.Errorf("restored %+v, want %+v", after.Queue, before.Queue)
		}

		if rec := s.do(t, http.MethodPost, "/api/queue/restore?name=missing", ""); rec.Code != http.StatusNotFound {
			t.Errorf("missing queue: status = %d", rec.Code)
		}
	})

	t.Run("bad bodies", func(t *testing.T) {
		if rec := s.do(t, http.MethodPost, "/api/queue", `{"tracks":`); rec.Code != http.StatusBadRequest {
			t.Errorf("truncated JSON: status = %d", rec.Code)
		}
		if rec := s.do(t, http.MethodPost, "/api/queue", `{"unknown":1}`); rec.Code != http.StatusBadRequest {
			t.Errorf("unknown field: status = %d", rec.Code)
		}
		if rec := s.do(t, http.MethodPost, "/api/queue", `{}`); rec.Code != http.StatusBadRequest {
			t.Errorf("no tracks or source: status = %d", rec.Code)
		}
	})

	t.Run("play on an empty queue conflicts", func(t *testing.T) {
		s := newTestServer(t)
		s.qobuz.AlbumFunc = func(_ context.Context, id string) (*models.Album, error) {
			return &models.Album{ID: id, Tracks: []models.Track{}, Source: models.ProviderQobuz}, nil
		}
		rec := s.do(t, http.MethodPost, "/api/queue", `{"source":{"kind":"album","id":"empty","provider":"qobuz"},"play":true}`)
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})
}

func TestInfraEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	health := decode[map[string]any](t, rec)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	s.do(t, http.MethodGet, "/api/search?q=x", "")
	rec = s.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sonar_") {
		t.Errorf("metrics output missing sonar series")
	}

	if rec := s.do(t, http.MethodPut, "/api/queue", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/queue status = %d, want 405", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tc := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", shared.ErrMissingArgument), http.StatusBadRequest},
		{queue.ErrIndexOutOfRange, http.StatusBadRequest},
		{&services.ProviderError{Kind: services.KindAuthExpired}, http.StatusUnauthorized},
		{&services.ProviderError{Kind: services.KindNotFound}, http.StatusNotFound},
		{shared.ErrQueueNotFound, http.StatusNotFound},
		{fmt.Errorf("cannot start playback: %w", queue.ErrEmptyQueue), http.StatusConflict},
		{&services.ProviderError{Kind: services.KindRateLimited}, http.StatusTooManyRequests},
		{&services.ProviderError{Kind: services.KindMalformed}, http.StatusBadGateway},
		{&aggregator.AggregateError{}, http.StatusBadGateway},
		{shared.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tc {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("Recover", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(shared.NewLogger(io.Discard)))
		r.HandleFunc(http.MethodGet, "/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("Order", func(t *testing.T) {
		var calls []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls = append(calls, name)
					next.ServeHTTP(w, r)
				})
			}
		}
		r := NewBasicRouter()
		r.Use(mark("outer"), mark("inner"))
		r.HandleFunc(http.MethodGet, "/", func(http.ResponseWriter, *http.Request) { calls = append(calls, "handler") })

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if strings.Join(calls, ",") != "outer,inner,handler" {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("Logging keeps status", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Logging(shared.NewLogger(io.Discard)))
		r.HandleFunc(http.MethodGet, "/teapot", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestServerLifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := NewBasicRouter()
	r.Handler(&HealthHandler{})
	srv := New(ln.Addr().String(), r, shared.NewLogger(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestParseProviders(t *testing.T) {
	ids, err := ParseProviders("qobuz, ytmusic")
	if err != nil {
		t.Fatalf("ParseProviders failed: %v", err)
	}
	if len(ids) != 2 || ids[1] != models.ProviderYouTube {
		t.Errorf("ids = %v", ids)
	}
	if ids, _ := ParseProviders(""); ids != nil {
		t.Errorf("empty input should select every provider")
	}
	if _, err := ParseProviders("qobuz,tidal"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
