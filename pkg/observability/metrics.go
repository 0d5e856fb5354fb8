// Package observability holds the Prometheus metrics for the data layer.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the application. Each
// instance carries its own registry so tests can create and discard
// collectors freely.
type Metrics struct {
	registry *prometheus.Registry

	// Node graph metrics
	NodeEvents *prometheus.CounterVec
	NodesLive  prometheus.Gauge

	// Webhook metrics
	WebhooksQueued   prometheus.Counter
	WebhookBatches   prometheus.Counter
	WebhookBatchSize prometheus.Histogram

	// Source pipeline metrics
	SourceRuns     *prometheus.CounterVec
	SourceDuration *prometheus.HistogramVec

	// Cache metrics
	CacheSaves        *prometheus.CounterVec
	CacheSaveDuration prometheus.Histogram

	// Remote sync metrics
	RemoteReconnects prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a collector set under the given namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		NodeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_events_total",
				Help:      "Total node lifecycle events by kind",
			},
			[]string{"kind"},
		),
		NodesLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes_live",
				Help:      "Number of nodes currently in the store",
			},
		),
		WebhooksQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_queued_total",
				Help:      "Total webhooks accepted into the queue",
			},
		),
		WebhookBatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_batches_total",
				Help:      "Total webhook batches processed",
			},
		),
		WebhookBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_batch_size",
				Help:      "Webhooks per processed batch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		SourceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_runs_total",
				Help:      "Plugin source runs by outcome",
			},
			[]string{"plugin", "status"},
		),
		SourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_run_duration_seconds",
				Help:      "Plugin source run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		CacheSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_saves_total",
				Help:      "Cache envelope writes by outcome",
			},
			[]string{"owner", "status"},
		),
		CacheSaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_save_duration_seconds",
				Help:      "Cache envelope write duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RemoteReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_reconnects_total",
				Help:      "WebSocket reconnect attempts against the peer",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		m.NodeEvents,
		m.NodesLive,
		m.WebhooksQueued,
		m.WebhookBatches,
		m.WebhookBatchSize,
		m.SourceRuns,
		m.SourceDuration,
		m.CacheSaves,
		m.CacheSaveDuration,
		m.RemoteReconnects,
		m.HTTPRequests,
	)
	return m
}

// ObserveSourceRun records one plugin source run.
func (m *Metrics) ObserveSourceRun(plugin, status string, took time.Duration) {
	m.SourceRuns.WithLabelValues(plugin, status).Inc()
	m.SourceDuration.WithLabelValues(plugin).Observe(took.Seconds())
}

// ObserveCacheSave records one cache envelope write.
func (m *Metrics) ObserveCacheSave(owner string, ok bool, took time.Duration) {
	status := "success"
	if !ok {
		status = "failure"
	}
	m.CacheSaves.WithLabelValues(owner, status).Inc()
	m.CacheSaveDuration.Observe(took.Seconds())
}

// ObserveBatch records one processed webhook batch.
func (m *Metrics) ObserveBatch(size int) {
	m.WebhookBatches.Inc()
	m.WebhookBatchSize.Observe(float64(size))
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
