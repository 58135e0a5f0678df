// Package metrics exposes prometheus collectors for rounds, guesses and the embedding cache.
//
// All recording methods are safe to call on a nil *Metrics so components can
// run without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "khamklai"

// Option configures a Metrics instance.
type Option func(*Metrics)

// WithNamespace overrides the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Metrics) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(m *Metrics) { m.runtime = true }
}

type Metrics struct {
	namespace string
	runtime   bool
	registry  *prometheus.Registry

	guesses          *prometheus.CounterVec
	roundsStarted    prometheus.Counter
	roundsEnded      *prometheus.CounterVec
	roundSetupErrors prometheus.Counter
	sessions         prometheus.Gauge

	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheCoalesced  prometheus.Counter
	providerCalls   *prometheus.CounterVec
	providerLatency prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace: defaultNamespace,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.guesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "game", Name: "guesses_total",
		Help: "Guesses handled, by outcome.",
	}, []string{"outcome"})
	m.roundsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "game", Name: "rounds_started_total",
		Help: "Rounds started across all sessions.",
	})
	m.roundsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "game", Name: "rounds_ended_total",
		Help: "Rounds ended, by reason.",
	}, []string{"reason"})
	m.roundSetupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "game", Name: "round_setup_errors_total",
		Help: "Failed attempts to prepare the next round.",
	})
	m.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "game", Name: "sessions",
		Help: "Sessions held by the registry.",
	})
	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "embedding", Name: "cache_hits_total",
		Help: "Embedding lookups served from the cache.",
	})
	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "embedding", Name: "cache_misses_total",
		Help: "Embedding lookups that required a provider call.",
	})
	m.cacheCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "embedding", Name: "cache_coalesced_total",
		Help: "Embedding lookups that joined an in-flight provider call.",
	})
	m.providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "embedding", Name: "provider_calls_total",
		Help: "Calls to the embedding provider, by result.",
	}, []string{"result"})
	m.providerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "embedding", Name: "provider_latency_seconds",
		Help:    "Embedding provider call latency.",
		Buckets: prometheus.DefBuckets,
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.guesses, m.roundsStarted, m.roundsEnded, m.roundSetupErrors, m.sessions,
		m.cacheHits, m.cacheMisses, m.cacheCoalesced, m.providerCalls, m.providerLatency,
		m.httpRequests, m.httpDuration,
	)
	if m.runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Guess(outcome string) {
	if m == nil {
		return
	}
	m.guesses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.roundsStarted.Inc()
}

func (m *Metrics) RoundEnded(reason string) {
	if m == nil {
		return
	}
	m.roundsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) RoundSetupFailed() {
	if m == nil {
		return
	}
	m.roundSetupErrors.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) CacheCoalesced() {
	if m == nil {
		return
	}
	m.cacheCoalesced.Inc()
}

func (m *Metrics) ProviderCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCalls.WithLabelValues(result).Inc()
	m.providerLatency.Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
