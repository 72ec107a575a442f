package telemetry

import (
	"context"
	"net/http"

	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter holds the Prometheus series fed by storage notifications.
type PrometheusExporter struct {
	requestsTotal   *prometheus.CounterVec
	throttledTotal  *prometheus.CounterVec
	chargeTotal     *prometheus.CounterVec
	chargePerCall   *prometheus.HistogramVec
	collectionSize  prometheus.Gauge
	publishFailures prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter() *PrometheusExporter {
	registry := prometheus.NewRegistry()
	labels := []string{"resource_type", "audit_event_type"}

	e := &PrometheusExporter{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_requests_total",
				Help: "Total number of document store calls by resource and audit event type",
			},
			labels,
		),

		throttledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_throttled_requests_total",
				Help: "Total number of document store calls rejected by rate limiting",
			},
			labels,
		),

		chargeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_request_charge_total",
				Help: "Total request units consumed by document store calls",
			},
			labels,
		),

		chargePerCall: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docstore_request_charge",
				Help:    "Request units consumed per document store call",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
			},
			labels,
		),

		collectionSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docstore_collection_size_kilobytes",
				Help: "Latest collection size reported by the document store",
			},
		),

		publishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docstore_metrics_publish_failures_total",
				Help: "Total number of storage metrics notifications that failed to publish",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		e.requestsTotal,
		e.throttledTotal,
		e.chargeTotal,
		e.chargePerCall,
		e.collectionSize,
		e.publishFailures,
	)

	return e
}

// Handle implements notify.Handler.
func (e *PrometheusExporter) Handle(_ context.Context, n domain.Notification) error {
	m, ok := n.(domain.StorageRequestMetrics)
	if !ok {
		return nil
	}
	e.Record(m)
	return nil
}

// Record updates the series for one document store call.
func (e *PrometheusExporter) Record(m domain.StorageRequestMetrics) {
	e.requestsTotal.WithLabelValues(m.ResourceType, m.AuditEventType).Add(float64(m.RequestCount))
	e.chargeTotal.WithLabelValues(m.ResourceType, m.AuditEventType).Add(m.TotalRequestCharge)
	e.chargePerCall.WithLabelValues(m.ResourceType, m.AuditEventType).Observe(m.TotalRequestCharge)

	if m.ThrottledCount != nil && *m.ThrottledCount > 0 {
		e.throttledTotal.WithLabelValues(m.ResourceType, m.AuditEventType).Add(float64(*m.ThrottledCount))
	}
	if m.CollectionSizeUsageKB != nil {
		e.collectionSize.Set(float64(*m.CollectionSizeUsageKB))
	}
}

// RecordPublishFailure counts a notification that could not be delivered.
func (e *PrometheusExporter) RecordPublishFailure() {
	e.publishFailures.Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
