// package metrics collects Prometheus counters for provider calls, the stream URL cache and searches
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sonar"

// Outcome labels for provider calls.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics groups every collector sonar exports.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	searches         *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	cacheEvictions   prometheus.Counter
	sharedResolves   prometheus.Counter
	queueTransitions *prometheus.CounterVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers collectors on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		providerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider adapter calls by provider, operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider adapter call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Aggregated searches by result (ok, partial, failed).",
		}, []string{"result"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_cache_lookups_total",
			Help:      "Stream URL cache lookups by result (hit, miss, expired).",
		}, []string{"result"}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_cache_evictions_total",
			Help:      "Stream URL cache entries evicted for capacity.",
		}),
		sharedResolves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_resolves_shared_total",
			Help:      "Resolves that joined an in-flight upstream call.",
		}),
		queueTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_transitions_total",
			Help:      "Playback queue transitions by kind.",
		}, []string{"kind"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveProvider records one adapter call.
func (m *Metrics) ObserveProvider(provider, op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
	case err != nil:
		outcome = OutcomeError
	}
	m.providerRequests.WithLabelValues(provider, op, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, op).Observe(elapsed.Seconds())
}

// Search records an aggregated search, classified by how many providers answered.
func (m *Metrics) Search(responded, failed int) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case responded == 0:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	m.searches.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) CacheExpired() {
	if m != nil {
		m.cacheLookups.WithLabelValues("expired").Inc()
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil && n > 0 {
		m.cacheEvictions.Add(float64(n))
	}
}

func (m *Metrics) SharedResolve() {
	if m != nil {
		m.sharedResolves.Inc()
	}
}

// QueueTransition counts a queue state change of the given kind.
func (m *Metrics) QueueTransition(kind string) {
	if m != nil {
		m.queueTransitions.WithLabelValues(kind).Inc()
	}
}

// ProviderRequests returns the counter for one provider/op/outcome series.
func (m *Metrics) ProviderRequests(provider, op, outcome string) prometheus.Counter {
	return m.providerRequests.WithLabelValues(provider, op, outcome)
}

// Searches returns the counter for one aggregate search result label.
func (m *Metrics) Searches(result string) prometheus.Counter {
	return m.searches.WithLabelValues(result)
}

// CacheLookups returns the counter for one cache lookup result label.
func (m *Metrics) CacheLookups(result string) prometheus.Counter {
	return m.cacheLookups.WithLabelValues(result)
}

// SharedResolves returns the counter of callers that joined an in-flight resolution.
func (m *Metrics) SharedResolves() prometheus.Counter { return m.sharedResolves }

// CacheEvictions returns the eviction counter.
func (m *Metrics) CacheEvictions() prometheus.Counter { return m.cacheEvictions }

// QueueTransitions returns the counter for one queue transition kind.
func (m *Metrics) QueueTransitions(kind string) prometheus.Counter {
	return m.queueTransitions.WithLabelValues(kind)
}
