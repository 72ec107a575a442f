package telemetry

import (
	"context"

	"github.com/polisai/polis-docmeter/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordStorageEvent attaches a document store call summary to the span.
func RecordStorageEvent(span trace.Span, m domain.StorageRequestMetrics) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("docstore.resource_type", m.ResourceType),
		attribute.String("docstore.audit_event_type", m.AuditEventType),
		attribute.Float64("docstore.request_charge", m.TotalRequestCharge),
		attribute.Bool("docstore.throttled", m.Throttled()),
	}
	if m.CollectionSizeUsageKB != nil {
		attrs = append(attrs, attribute.Int64("docstore.collection_size_kb", *m.CollectionSizeUsageKB))
	}

	span.AddEvent("docstore.request", trace.WithAttributes(attrs...))
}

// SpanSubscriber records storage notifications on the span active in the
// publishing context.
type SpanSubscriber struct{}

// Handle implements notify.Handler.
func (SpanSubscriber) Handle(ctx context.Context, n domain.Notification) error {
	if m, ok := n.(domain.StorageRequestMetrics); ok {
		RecordStorageEvent(trace.SpanFromContext(ctx), m)
	}
	return nil
}
