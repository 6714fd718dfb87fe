// Package telemetry exposes publish and webhook counters over a dedicated
// Prometheus registry.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pubentity "github.com/sevendev/crosspost/internal/domain/publish/entity"
	wentity "github.com/sevendev/crosspost/internal/domain/webhook/entity"
)

// Metrics implements the coordinator and correlator metric sinks
type Metrics struct {
	registry *prometheus.Registry

	publishFinished *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	publishRetries  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

// New creates the metrics registry with process and runtime collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		publishFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosspost",
			Name:      "publish_finished_total",
			Help:      "Publish workflows finished, by platform and final status.",
		}, []string{"platform", "status"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crosspost",
			Name:      "publish_duration_seconds",
			Help:      "End to end publish workflow duration.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"platform"}),
		publishRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosspost",
			Name:      "publish_retries_total",
			Help:      "Remote publish calls retried after a transient failure.",
		}, []string{"platform"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosspost",
			Name:      "rate_limited_total",
			Help:      "Publish attempts rejected by the rate budget ledger.",
		}, []string{"platform"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosspost",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries, by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}

	registry.MustRegister(
		m.publishFinished,
		m.publishDuration,
		m.publishRetries,
		m.rateLimited,
		m.webhookEvents,
	)
	return m
}

// PublishFinished records a terminal workflow outcome
func (m *Metrics) PublishFinished(platform pubentity.Platform, status string, dur time.Duration) {
	m.publishFinished.WithLabelValues(string(platform), status).Inc()
	m.publishDuration.WithLabelValues(string(platform)).Observe(dur.Seconds())
}

// PublishRetried records a retried remote publish call
func (m *Metrics) PublishRetried(platform pubentity.Platform) {
	m.publishRetries.WithLabelValues(string(platform)).Inc()
}

// RateLimited records a budget rejection
func (m *Metrics) RateLimited(platform pubentity.Platform) {
	m.rateLimited.WithLabelValues(string(platform)).Inc()
}

// WebhookReceived records an accepted webhook delivery
func (m *Metrics) WebhookReceived(provider wentity.Provider) {
	m.webhookEvents.WithLabelValues(string(provider), "received").Inc()
}

// WebhookCompleted records a fully processed webhook delivery
func (m *Metrics) WebhookCompleted(provider wentity.Provider) {
	m.webhookEvents.WithLabelValues(string(provider), "completed").Inc()
}

// WebhookFailed records a delivery that exhausted its retries
func (m *Metrics) WebhookFailed(provider wentity.Provider) {
	m.webhookEvents.WithLabelValues(string(provider), "failed").Inc()
}

// Handler returns the HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
