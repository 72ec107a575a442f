// Package metrics folds the cost reported by each document store call into the
// active request scope and publishes one storage metrics notification per call.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
)

// Response header names written by the processor.
const (
	HeaderSessionToken  = "x-ms-session-token"
	HeaderRequestCharge = "x-ms-request-charge"
)

// CallMetrics carries the raw signals of one backend call.
type CallMetrics struct {
	SessionToken     string
	RequestCharge    float64
	CollectionSizeKB *int64
	StatusCode       *int
}

// Option customises a Processor.
type Option func(*Processor)

// WithHeaderNames overrides the session token and request charge header names.
// Empty names keep the defaults.
func WithHeaderNames(sessionToken, requestCharge string) Option {
	return func(p *Processor) {
		if sessionToken != "" {
			p.sessionHeader = sessionToken
		}
		if requestCharge != "" {
			p.chargeHeader = requestCharge
		}
	}
}

// WithPublishFailureObserver registers fn to be called after a notification
// fails to publish.
func WithPublishFailureObserver(fn func()) Option {
	return func(p *Processor) {
		p.onPublishFailure = fn
	}
}

// Processor updates the active request context with backend call metrics.
//
// It keeps no state between calls and performs no locking; calls for one
// request are expected to arrive sequentially.
type Processor struct {
	accessor      domain.RequestContextAccessor
	publisher     domain.Publisher
	logger        *slog.Logger
	sessionHeader string
	chargeHeader  string

	onPublishFailure func()
}

// NewProcessor constructs a Processor. The accessor and publisher are required.
func NewProcessor(accessor domain.RequestContextAccessor, publisher domain.Publisher, logger *slog.Logger, opts ...Option) (*Processor, error) {
	if accessor == nil {
		return nil, fmt.Errorf("metrics processor: request context accessor is required: %w", domain.ErrConfigInvalid)
	}
	if publisher == nil {
		return nil, fmt.Errorf("metrics processor: publisher is required: %w", domain.ErrConfigInvalid)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		accessor:      accessor,
		publisher:     publisher,
		logger:        logger,
		sessionHeader: HeaderSessionToken,
		chargeHeader:  HeaderRequestCharge,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RecordResponse records the metrics carried by a successful backend response.
func (p *Processor) RecordResponse(ctx context.Context, resp docstore.Response) {
	if resp == nil {
		return
	}
	p.Record(ctx, FromResponse(resp))
}

// Record merges one call's metrics into the request context and publishes a
// StorageRequestMetrics notification. It is a no-op without an active request
// scope and never fails because of telemetry delivery.
func (p *Processor) Record(ctx context.Context, m CallMetrics) {
	rc := p.accessor.RequestContext(ctx)
	if rc == nil {
		return
	}

	if m.SessionToken != "" {
		rc.ResponseHeaders.Set(p.sessionHeader, m.SessionToken)
	}

	// The header keeps every call's charge as text, concatenated without a
	// separator, rather than a numeric total.
	charge := FormatCharge(m.RequestCharge)
	if rc.ResponseHeaders.Has(p.chargeHeader) {
		rc.ResponseHeaders.Append(p.chargeHeader, charge)
	} else {
		rc.ResponseHeaders.Set(p.chargeHeader, charge)
	}

	event := domain.StorageRequestMetrics{
		AuditEventType:     rc.AuditEventType(),
		ResourceType:       rc.ResourceType(),
		TotalRequestCharge: m.RequestCharge,
		RequestCount:       1,
	}
	if m.CollectionSizeKB != nil {
		size := *m.CollectionSizeKB
		event.CollectionSizeUsageKB = &size
	}
	if m.StatusCode != nil && *m.StatusCode == docstore.StatusTooManyRequests {
		throttled := 1
		event.ThrottledCount = &throttled
	}

	p.publish(ctx, event)
}

// publish delivers the event and logs any failure, including a panicking
// publisher, instead of propagating it.
func (p *Processor) publish(ctx context.Context, event domain.StorageRequestMetrics) {
	defer func() {
		if r := recover(); r != nil {
			p.publishFailed(event, fmt.Errorf("publisher panicked: %v", r))
		}
	}()

	if err := p.publisher.Publish(ctx, event); err != nil {
		p.publishFailed(event, err)
	}
}

func (p *Processor) publishFailed(event domain.StorageRequestMetrics, err error) {
	p.logger.Error("unable to publish storage request metrics",
		"severity", "critical",
		"error", err,
		"resource_type", event.ResourceType,
		"audit_event_type", event.AuditEventType,
	)
	if p.onPublishFailure != nil {
		p.onPublishFailure()
	}
}

// FormatCharge renders a request charge in the shortest locale-independent
// decimal form, e.g. 5 -> "5" and 3.2 -> "3.2".
func FormatCharge(charge float64) string {
	return strconv.FormatFloat(charge, 'f', -1, 64)
}

// FromResponse extracts the call metrics reported by each response shape.
func FromResponse(resp docstore.Response) CallMetrics {
	switch r := resp.(type) {
	case docstore.ItemResponse:
		return fromItem(r)
	case *docstore.ItemResponse:
		return fromItem(*r)
	case docstore.FeedResponse:
		return fromFeed(r)
	case *docstore.FeedResponse:
		return fromFeed(*r)
	case docstore.ProcedureResponse:
		return fromProcedure(r)
	case *docstore.ProcedureResponse:
		return fromProcedure(*r)
	default:
		return CallMetrics{}
	}
}

func fromItem(r docstore.ItemResponse) CallMetrics {
	size, status := r.CollectionSizeKB, r.StatusCode
	return CallMetrics{
		SessionToken:     r.SessionToken,
		RequestCharge:    r.RequestCharge,
		CollectionSizeKB: &size,
		StatusCode:       &status,
	}
}

func fromFeed(r docstore.FeedResponse) CallMetrics {
	size := r.CollectionSizeKB
	return CallMetrics{
		SessionToken:     r.SessionToken,
		RequestCharge:    r.RequestCharge,
		CollectionSizeKB: &size,
	}
}

func fromProcedure(r docstore.ProcedureResponse) CallMetrics {
	status := r.StatusCode
	return CallMetrics{
		SessionToken:  r.SessionToken,
		RequestCharge: r.RequestCharge,
		StatusCode:    &status,
	}
}
