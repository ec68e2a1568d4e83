// Package observability exposes gateway activity as Prometheus metrics.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
)

const namespace = "llmproxy"

// LatencyBuckets are the upstream latency histogram buckets, in seconds.
var LatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

// Metrics holds the gateway collectors. It implements the gateway's
// observer and produces the hooks handed to provider clients.
type Metrics struct {
	requests        *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	rateLimited     prometheus.Counter
	upstreamLatency *prometheus.HistogramVec
	available       *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completion requests by serving provider and HTTP status",
		}, []string{"provider", "status"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Cross-provider fallbacks after a retryable failure",
		}, []string{"from", "to"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of individual upstream provider requests",
			Buckets:   LatencyBuckets,
		}, []string{"provider", "status"}),
		available: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_available",
			Help:      "1 if the provider passed its last availability probe",
		}, []string{"provider"}),
	}
}

func providerLabel(p core.ProviderType) string {
	if p == "" {
		return "none"
	}
	return p.String()
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Completed counts a finished completion request.
func (m *Metrics) Completed(provider core.ProviderType, status int) {
	m.requests.WithLabelValues(providerLabel(provider), strconv.Itoa(status)).Inc()
}

// Fallback counts a switch from one provider to another.
func (m *Metrics) Fallback(from, to core.ProviderType) {
	m.fallbacks.WithLabelValues(providerLabel(from), providerLabel(to)).Inc()
}

// SetAvailability publishes an availability snapshot.
func (m *Metrics) SetAvailability(snapshot map[core.ProviderType]bool) {
	for p, ok := range snapshot {
		v := 0.0
		if ok {
			v = 1
		}
		m.available.WithLabelValues(p.String()).Set(v)
	}
}

// Hooks returns llmclient hooks that observe every upstream request.
// Transport failures without a status are labelled "error".
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.RequestInfo) {
			status := "error"
			if info.StatusCode != 0 {
				status = strconv.Itoa(info.StatusCode)
			}
			m.upstreamLatency.WithLabelValues(info.Provider, status).Observe(info.Duration.Seconds())
		},
	}
}
