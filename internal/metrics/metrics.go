// Package metrics exposes Prometheus metrics for the clustering pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the pipeline metrics. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	articlesProcessed *prometheus.CounterVec
	articleDuration   prometheus.Histogram
	topicMatches      prometheus.Counter
	decisions         *prometheus.CounterVec
	eventsCreated     prometheus.Counter

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	batchSize     prometheus.Gauge
	failedTotal   prometheus.Gauge

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
}

// NewManager creates a manager on its own registry, so only pipeline metrics are exported.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "article_clusterer",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.articlesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "articles_processed_total",
		Help:      "Articles processed by outcome (completed, failed or interrupted)",
	}, []string{"outcome"})

	m.articleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "article_duration_seconds",
		Help:      "Time spent processing one article",
		Buckets:   m.histogramBuckets,
	})

	m.topicMatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "topic_matches_total",
		Help:      "Article to topic associations written",
	})

	m.decisions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_decisions_total",
		Help:      "Event membership decisions by action and stage",
	}, []string{"action", "stage"})

	m.eventsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_created_total",
		Help:      "New event clusters created",
	})

	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycles_total",
		Help:      "Processing cycles by result",
	}, []string{"result"})

	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a processing cycle",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	m.batchSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_batch_size",
		Help:      "Articles fetched by the most recent cycle",
	})

	m.failedTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "permanently_failed_articles",
		Help:      "Articles that exhausted their attempts, as of the last cycle",
	})

	m.providerRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider calls by provider, operation, and outcome",
	}, []string{"provider", "operation", "outcome"})

	m.providerLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Provider call latency",
		Buckets:   m.histogramBuckets,
	}, []string{"provider", "operation"})
}

// RecordArticle counts one processed article.
func (m *Manager) RecordArticle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.articlesProcessed.WithLabelValues(outcome).Inc()
	m.articleDuration.Observe(d.Seconds())
}

// RecordTopicMatch counts one article-topic association.
func (m *Manager) RecordTopicMatch() {
	if m == nil {
		return
	}
	m.topicMatches.Inc()
}

// RecordDecision counts an event decision; created marks a new event row.
func (m *Manager) RecordDecision(action, stage string, created bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action, stage).Inc()
	if created {
		m.eventsCreated.Inc()
	}
}

// RecordCycle observes a finished cycle.
func (m *Manager) RecordCycle(result string, batch int, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.batchSize.Set(float64(batch))
	m.cycleDuration.Observe(d.Seconds())
}

// SetPermanentlyFailed publishes the number of exhausted articles.
func (m *Manager) SetPermanentlyFailed(n int) {
	if m == nil {
		return
	}
	m.failedTotal.Set(float64(n))
}

// ObserveProvider records one provider call.
func (m *Manager) ObserveProvider(provider, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerRequests.WithLabelValues(provider, operation, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
