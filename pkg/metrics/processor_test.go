package metrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/polisai/polis-docmeter/tests/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestProcessor(t *testing.T, publisher domain.Publisher, logger *slog.Logger) *Processor {
	t.Helper()
	p, err := NewProcessor(domain.ContextAccessor{}, publisher, logger)
	require.NoError(t, err)
	return p
}

func requestScope(resourceType, auditEventType string) (context.Context, *domain.RequestContext) {
	rc := domain.NewRequestContext("req-1", resourceType, auditEventType)
	return domain.WithRequestContext(context.Background(), rc), rc
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	_, err := NewProcessor(nil, testhelpers.NewCapturingPublisher(), nil)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = NewProcessor(domain.ContextAccessor{}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	p, err := NewProcessor(domain.ContextAccessor{}, testhelpers.NewCapturingPublisher(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p.logger)
}

func TestRecordWithoutRequestScopeIsNoop(t *testing.T) {
	publisher := testhelpers.NewCapturingPublisher()
	p := newTestProcessor(t, publisher, nil)

	status := http.StatusTooManyRequests
	p.Record(context.Background(), CallMetrics{SessionToken: "0:1", RequestCharge: 4, StatusCode: &status})
	p.RecordResponse(context.Background(), docstore.ItemResponse{SessionToken: "0:2", RequestCharge: 1})

	assert.Empty(t, publisher.Events())
}

func TestRecordUpdatesHeadersAndPublishes(t *testing.T) {
	publisher := testhelpers.NewCapturingPublisher()
	p := newTestProcessor(t, publisher, nil)
	ctx, rc := requestScope("Patient", "read")

	p.Record(ctx, CallMetrics{
		SessionToken:     "0:7",
		RequestCharge:    2.5,
		CollectionSizeKB: int64Ptr(42),
		StatusCode:       intPtr(http.StatusOK),
	})

	token, ok := rc.ResponseHeaders.Get(HeaderSessionToken)
	require.True(t, ok)
	assert.Equal(t, "0:7", token)
	charge, ok := rc.ResponseHeaders.Get(HeaderRequestCharge)
	require.True(t, ok)
	assert.Equal(t, "2.5", charge)

	events := publisher.StorageMetrics()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "read", event.AuditEventType)
	assert.Equal(t, "Patient", event.ResourceType)
	assert.Equal(t, 2.5, event.TotalRequestCharge)
	require.NotNil(t, event.CollectionSizeUsageKB)
	assert.Equal(t, int64(42), *event.CollectionSizeUsageKB)
	assert.Nil(t, event.ThrottledCount)
	assert.False(t, event.Throttled())
	assert.Equal(t, 1, event.RequestCount)
}

func TestRecordEmptySessionTokenKeepsPrevious(t *testing.T) {
	p := newTestProcessor(t, testhelpers.NewCapturingPublisher(), nil)
	ctx, rc := requestScope("Patient", "read")

	p.Record(ctx, CallMetrics{SessionToken: "0:1", RequestCharge: 1})
	p.Record(ctx, CallMetrics{RequestCharge: 1})
	p.Record(ctx, CallMetrics{SessionToken: "0:3", RequestCharge: 1})

	token, _ := rc.ResponseHeaders.Get(HeaderSessionToken)
	assert.Equal(t, "0:3", token)
}

func TestRecordConcatenatesChargesWithoutSeparator(t *testing.T) {
	p := newTestProcessor(t, testhelpers.NewCapturingPublisher(), nil)
	ctx, rc := requestScope("Patient", "search")

	p.Record(ctx, CallMetrics{RequestCharge: 5.0})
	p.Record(ctx, CallMetrics{RequestCharge: 3.2})

	charge, ok := rc.ResponseHeaders.Get(HeaderRequestCharge)
	require.True(t, ok)
	assert.Equal(t, "53.2", charge)
}

func TestRecordMarksThrottledCalls(t *testing.T) {
	publisher := testhelpers.NewCapturingPublisher()
	p := newTestProcessor(t, publisher, nil)
	ctx, _ := requestScope("Patient", "create")

	p.Record(ctx, CallMetrics{RequestCharge: 0.5, StatusCode: intPtr(http.StatusTooManyRequests)})

	events := publisher.StorageMetrics()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ThrottledCount)
	assert.Equal(t, 1, *events[0].ThrottledCount)
	assert.True(t, events[0].Throttled())
	assert.Nil(t, events[0].CollectionSizeUsageKB)
}

func TestRecordSwallowsPublishFailures(t *testing.T) {
	tests := []struct {
		name      string
		publisher *testhelpers.CapturingPublisher
	}{
		{name: "error", publisher: &testhelpers.CapturingPublisher{Err: errors.New("subscriber offline")}},
		{name: "panic", publisher: &testhelpers.CapturingPublisher{Panic: "subscriber crashed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, nil))
			p := newTestProcessor(t, tt.publisher, logger)
			ctx, rc := requestScope("Patient", "read")

			assert.NotPanics(t, func() {
				p.Record(ctx, CallMetrics{SessionToken: "0:9", RequestCharge: 1.5})
			})

			token, _ := rc.ResponseHeaders.Get(HeaderSessionToken)
			assert.Equal(t, "0:9", token)
			charge, _ := rc.ResponseHeaders.Get(HeaderRequestCharge)
			assert.Equal(t, "1.5", charge)
			assert.Len(t, tt.publisher.Events(), 1)
			assert.Contains(t, logs.String(), `"severity":"critical"`)
			assert.Contains(t, logs.String(), "unable to publish storage request metrics")
		})
	}
}

func TestWithHeaderNames(t *testing.T) {
	p, err := NewProcessor(domain.ContextAccessor{}, testhelpers.NewCapturingPublisher(), nil,
		WithHeaderNames("x-session", ""))
	require.NoError(t, err)
	ctx, rc := requestScope("Patient", "read")

	p.Record(ctx, CallMetrics{SessionToken: "0:1", RequestCharge: 1})

	assert.True(t, rc.ResponseHeaders.Has("x-session"))
	assert.True(t, rc.ResponseHeaders.Has(HeaderRequestCharge))
	assert.False(t, rc.ResponseHeaders.Has(HeaderSessionToken))
}

func TestFromResponseExtractsPerShape(t *testing.T) {
	item := FromResponse(docstore.ItemResponse{SessionToken: "0:1", RequestCharge: 1, CollectionSizeKB: 10, StatusCode: http.StatusCreated})
	assert.Equal(t, "0:1", item.SessionToken)
	require.NotNil(t, item.CollectionSizeKB)
	assert.Equal(t, int64(10), *item.CollectionSizeKB)
	require.NotNil(t, item.StatusCode)
	assert.Equal(t, http.StatusCreated, *item.StatusCode)

	feed := FromResponse(&docstore.FeedResponse{SessionToken: "0:2", RequestCharge: 3, CollectionSizeKB: 11})
	assert.Equal(t, 3.0, feed.RequestCharge)
	require.NotNil(t, feed.CollectionSizeKB)
	assert.Nil(t, feed.StatusCode)

	proc := FromResponse(docstore.ProcedureResponse{SessionToken: "0:3", RequestCharge: 10, StatusCode: http.StatusOK})
	assert.Nil(t, proc.CollectionSizeKB)
	require.NotNil(t, proc.StatusCode)
	assert.Equal(t, http.StatusOK, *proc.StatusCode)
}

func TestRecordResponseIgnoresNil(t *testing.T) {
	publisher := testhelpers.NewCapturingPublisher()
	p := newTestProcessor(t, publisher, nil)
	ctx, rc := requestScope("Patient", "read")

	p.RecordResponse(ctx, nil)

	assert.Zero(t, rc.ResponseHeaders.Len())
	assert.Empty(t, publisher.Events())
}

func TestFormatCharge(t *testing.T) {
	cases := map[float64]string{
		0:       "0",
		5:       "5",
		3.2:     "3.2",
		5.71:    "5.71",
		1234.5:  "1234.5",
		0.00001: "0.00001",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatCharge(in))
	}
}

// Property: every recorded call touches the charge header once and publishes
// exactly one notification with a request count of one.
func TestRecordProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		publisher := testhelpers.NewCapturingPublisher()
		p, err := NewProcessor(domain.ContextAccessor{}, publisher, nil)
		if err != nil {
			t.Fatalf("new processor: %v", err)
		}
		ctx, rc := requestScope("Observation", "search")

		calls := rapid.IntRange(1, 10).Draw(t, "calls")
		expectedHeader := ""
		for i := 0; i < calls; i++ {
			m := CallMetrics{RequestCharge: rapid.Float64Range(0, 10_000).Draw(t, "charge")}
			if rapid.Bool().Draw(t, "hasSize") {
				m.CollectionSizeKB = int64Ptr(rapid.Int64Range(0, 1<<40).Draw(t, "size"))
			}
			if rapid.Bool().Draw(t, "hasStatus") {
				m.StatusCode = intPtr(rapid.SampledFrom([]int{200, 201, 204, 404, 429}).Draw(t, "status"))
			}

			p.Record(ctx, m)
			expectedHeader += FormatCharge(m.RequestCharge)

			events := publisher.StorageMetrics()
			if len(events) != i+1 {
				t.Fatalf("expected %d events, got %d", i+1, len(events))
			}
			last := events[i]
			if last.RequestCount != 1 {
				t.Fatalf("expected request count 1, got %d", last.RequestCount)
			}
			if last.TotalRequestCharge != m.RequestCharge {
				t.Fatalf("expected charge %v, got %v", m.RequestCharge, last.TotalRequestCharge)
			}
			if (m.CollectionSizeKB != nil) != (last.CollectionSizeUsageKB != nil) {
				t.Fatalf("collection size presence mismatch")
			}
			throttled := m.StatusCode != nil && *m.StatusCode == http.StatusTooManyRequests
			if throttled != last.Throttled() {
				t.Fatalf("throttled mismatch for status %v", m.StatusCode)
			}
			if got, _ := rc.ResponseHeaders.Get(HeaderRequestCharge); got != expectedHeader {
				t.Fatalf("expected charge header %q, got %q", expectedHeader, got)
			}
		}
	})
}

func TestPublishFailureObserver(t *testing.T) {
	failures := 0
	publisher := &testhelpers.CapturingPublisher{Err: errors.New("subscriber offline")}
	p, err := NewProcessor(domain.ContextAccessor{}, publisher, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		WithPublishFailureObserver(func() { failures++ }))
	require.NoError(t, err)
	ctx, _ := requestScope("Patient", "read")

	p.Record(ctx, CallMetrics{RequestCharge: 1})
	publisher.Err = nil
	p.Record(ctx, CallMetrics{RequestCharge: 1})

	assert.Equal(t, 1, failures)
}
