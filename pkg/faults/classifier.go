// Package faults translates document store client errors into domain errors
// after recording the cost of the failed call.
package faults

import (
	"context"
	"fmt"
	"strings"

	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/polisai/polis-docmeter/pkg/metrics"
)

const invalidContinuationToken = "invalid continuation token"

// Recorder records the metrics of a backend call.
type Recorder interface {
	Record(ctx context.Context, m metrics.CallMetrics)
}

// Classifier maps backend failures onto domain errors. It is stateless.
type Classifier struct {
	accessor domain.RequestContextAccessor
	recorder Recorder
}

// NewClassifier constructs a Classifier. Both collaborators are required.
func NewClassifier(accessor domain.RequestContextAccessor, recorder Recorder) (*Classifier, error) {
	if accessor == nil {
		return nil, fmt.Errorf("fault classifier: request context accessor is required: %w", domain.ErrConfigInvalid)
	}
	if recorder == nil {
		return nil, fmt.Errorf("fault classifier: metrics recorder is required: %w", domain.ErrConfigInvalid)
	}
	return &Classifier{accessor: accessor, recorder: recorder}, nil
}

// Classify records the charge of a failed backend call and returns the error
// the caller should propagate: a *domain.RateLimitedError for throttled calls,
// a *domain.InvalidInputError for malformed continuation tokens, and err
// itself otherwise. Without an active request scope err is returned untouched
// and nothing is recorded.
func (c *Classifier) Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if c.accessor.RequestContext(ctx) == nil {
		return err
	}

	ce, ok := docstore.AsClientError(err)
	if !ok {
		return err
	}

	status := ce.StatusCode
	c.recorder.Record(ctx, metrics.CallMetrics{
		RequestCharge: ce.RequestCharge,
		StatusCode:    &status,
	})

	switch {
	case ce.StatusCode == docstore.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: ce.RetryAfter}
	case strings.Contains(strings.ToLower(ce.Message), invalidContinuationToken):
		return &domain.InvalidInputError{Message: domain.MsgInvalidContinuationToken}
	default:
		return err
	}
}
