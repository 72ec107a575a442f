package telemetry

import (
	"context"
	"sync"

	"github.com/polisai/polis-docmeter/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	requestCounter       metric.Int64Counter
	throttledCounter     metric.Int64Counter
	requestChargeCounter metric.Float64Counter
	requestChargeHist    metric.Float64Histogram
	collectionSizeGauge  metric.Int64Gauge
)

// RecordStorageMetrics emits OpenTelemetry instruments for one document store call.
func RecordStorageMetrics(ctx context.Context, m domain.StorageRequestMetrics) error {
	if err := ensureMetrics(); err != nil {
		return err
	}

	opts := metric.WithAttributes(
		attribute.String("docstore.resource_type", m.ResourceType),
		attribute.String("docstore.audit_event_type", m.AuditEventType),
	)

	requestCounter.Add(ctx, int64(m.RequestCount), opts)
	requestChargeCounter.Add(ctx, m.TotalRequestCharge, opts)
	requestChargeHist.Record(ctx, m.TotalRequestCharge, opts)

	if m.ThrottledCount != nil && *m.ThrottledCount > 0 {
		throttledCounter.Add(ctx, int64(*m.ThrottledCount), opts)
	}
	if m.CollectionSizeUsageKB != nil {
		collectionSizeGauge.Record(ctx, *m.CollectionSizeUsageKB)
	}
	return nil
}

// OTelSubscriber records storage notifications through the global meter provider.
type OTelSubscriber struct{}

// Handle implements notify.Handler.
func (OTelSubscriber) Handle(ctx context.Context, n domain.Notification) error {
	m, ok := n.(domain.StorageRequestMetrics)
	if !ok {
		return nil
	}
	return RecordStorageMetrics(ctx, m)
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("docmeter.storage")

		requestCounter, metricsInitErr = meter.Int64Counter(
			"docstore.requests_total",
			metric.WithDescription("Document store calls issued while serving requests"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		throttledCounter, metricsInitErr = meter.Int64Counter(
			"docstore.throttled_total",
			metric.WithDescription("Document store calls rejected by rate limiting"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		requestChargeCounter, metricsInitErr = meter.Float64Counter(
			"docstore.request_charge_total",
			metric.WithDescription("Request units consumed by document store calls"),
			metric.WithUnit("{RU}"),
		)
		if metricsInitErr != nil {
			return
		}

		requestChargeHist, metricsInitErr = meter.Float64Histogram(
			"docstore.request_charge",
			metric.WithDescription("Request units consumed per document store call"),
			metric.WithUnit("{RU}"),
		)
		if metricsInitErr != nil {
			return
		}

		collectionSizeGauge, metricsInitErr = meter.Int64Gauge(
			"docstore.collection_size",
			metric.WithDescription("Latest collection size reported by the document store"),
			metric.WithUnit("KiBy"),
		)
	})

	return metricsInitErr
}
