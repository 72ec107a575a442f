package telemetry

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-docmeter/pkg/domain"
)

// LogSubscriber writes each storage notification as a debug log line.
type LogSubscriber struct {
	logger *slog.Logger
}

// NewLogSubscriber creates a LogSubscriber.
func NewLogSubscriber(logger *slog.Logger) *LogSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubscriber{logger: logger}
}

// Handle implements notify.Handler.
func (s *LogSubscriber) Handle(ctx context.Context, n domain.Notification) error {
	m, ok := n.(domain.StorageRequestMetrics)
	if !ok {
		return nil
	}

	attrs := []any{
		"resource_type", m.ResourceType,
		"audit_event_type", m.AuditEventType,
		"request_charge", m.TotalRequestCharge,
		"throttled", m.Throttled(),
	}
	if m.CollectionSizeUsageKB != nil {
		attrs = append(attrs, "collection_size_kb", *m.CollectionSizeUsageKB)
	}
	if rc := domain.RequestContextFrom(ctx); rc != nil {
		attrs = append(attrs, "request_id", rc.RequestID())
	}

	s.logger.DebugContext(ctx, "document store call", attrs...)
	return nil
}
