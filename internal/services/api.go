// Shared HTTP transport used by every provider adapter
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sonar/internal/metrics"
	"github.com/desertthunder/sonar/internal/models"
	"golang.org/x/time/rate"
)

// APIClient performs rate-limited JSON requests against one provider's HTTP API.
//
// Non-2xx responses and transport failures are classified into [*ProviderError].
type APIClient struct {
	provider   models.ProviderID
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    http.Header
	metrics    *metrics.Metrics
	logger     *log.Logger
}

// NewAPIClient creates a client for baseURL allowing rps requests per second.
//
// A non-positive rps disables rate limiting.
func NewAPIClient(provider models.ProviderID, baseURL string, client *http.Client, rps float64) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &APIClient{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		limiter:    rate.NewLimiter(limit, 1),
		headers:    http.Header{},
		logger:     log.Default(),
	}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (a *APIClient) BaseURL() string { return a.baseURL }

func (a *APIClient) SetHTTPClient(c *http.Client) { a.httpClient = c }

func (a *APIClient) SetHeader(key, value string) { a.headers.Set(key, value) }

func (a *APIClient) SetMetrics(m *metrics.Metrics) { a.metrics = m }

func (a *APIClient) SetLogger(l *log.Logger) { a.logger = l }

// Get performs a GET request to path with query and returns the raw response regardless of status.
func (a *APIClient) Get(ctx context.Context, path string, query url.Values) (*APIResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := a.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range a.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// GetJSON performs a GET and decodes a 2xx body into out.
//
// op names the adapter operation for errors, logs and metrics.
func (a *APIClient) GetJSON(ctx context.Context, op, path string, query url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		a.metrics.ObserveProvider(string(a.provider), op, err, time.Since(start))
	}()

	resp, err := a.Get(ctx, path, query)
	if err != nil {
		pe := transportError(a.provider, op, err)
		if !isContextErr(err) {
			a.logger.Warn("provider request failed", "provider", a.provider, "op", op, "error", err)
		}
		return pe
	}

	if !resp.OK() {
		pe := statusError(a.provider, op, resp)
		a.logger.Debug("provider returned error status", "provider", a.provider, "op", op, "status", resp.StatusCode)
		return pe
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return newProviderError(a.provider, op, KindMalformed, err)
	}
	return nil
}
