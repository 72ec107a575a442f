package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func throttledMetrics() domain.StorageRequestMetrics {
	size := int64(2048)
	throttled := 1
	return domain.StorageRequestMetrics{
		AuditEventType:        "create",
		ResourceType:          "Patient",
		TotalRequestCharge:    2.5,
		CollectionSizeUsageKB: &size,
		ThrottledCount:        &throttled,
		RequestCount:          1,
	}
}

func TestOTelSubscriberRecordsInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()

	if err := (OTelSubscriber{}).Handle(ctx, throttledMetrics()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	requests, ok := metrics["docstore.requests_total"]
	if !ok {
		t.Fatalf("missing docstore.requests_total metric")
	}
	requestData, ok := requests.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for requests metric")
	}
	if len(requestData.DataPoints) != 1 || requestData.DataPoints[0].Value != 1 {
		t.Fatalf("expected a single request datapoint with value 1, got %+v", requestData.DataPoints)
	}
	if value, ok := requestData.DataPoints[0].Attributes.Value(attribute.Key("docstore.resource_type")); !ok || value.AsString() != "Patient" {
		t.Fatalf("expected docstore.resource_type attribute Patient, got %v", value)
	}

	throttled := metrics["docstore.throttled_total"].Data.(metricdata.Sum[int64])
	if throttled.DataPoints[0].Value != 1 {
		t.Fatalf("expected throttled count 1, got %d", throttled.DataPoints[0].Value)
	}

	charge := metrics["docstore.request_charge_total"].Data.(metricdata.Sum[float64])
	if charge.DataPoints[0].Value != 2.5 {
		t.Fatalf("expected charge 2.5, got %v", charge.DataPoints[0].Value)
	}

	hist := metrics["docstore.request_charge"].Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != 2.5 {
		t.Fatalf("unexpected charge histogram %+v", hist.DataPoints[0])
	}

	size := metrics["docstore.collection_size"].Data.(metricdata.Gauge[int64])
	if size.DataPoints[0].Value != 2048 {
		t.Fatalf("expected collection size 2048, got %d", size.DataPoints[0].Value)
	}
}

func TestOTelSubscriberIgnoresOtherNotifications(t *testing.T) {
	if err := (OTelSubscriber{}).Handle(context.Background(), otherNotification{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSpanSubscriberAddsEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "request")
	if err := (SpanSubscriber{}).Handle(ctx, throttledMetrics()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 docstore event, got %d", len(events))
	}
	if events[0].Name != "docstore.request" {
		t.Fatalf("unexpected event name %q", events[0].Name)
	}

	attrs := attribute.NewSet(events[0].Attributes...)
	if value, ok := attrs.Value(attribute.Key("docstore.throttled")); !ok || !value.AsBool() {
		t.Fatalf("expected docstore.throttled attribute true")
	}
	if value, ok := attrs.Value(attribute.Key("docstore.request_charge")); !ok || value.AsFloat64() != 2.5 {
		t.Fatalf("expected request charge 2.5, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("docstore.collection_size_kb")); !ok || value.AsInt64() != 2048 {
		t.Fatalf("expected collection size 2048, got %v", value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestSpanSubscriberWithoutSpan(t *testing.T) {
	if err := (SpanSubscriber{}).Handle(context.Background(), throttledMetrics()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPrometheusExporterRecords(t *testing.T) {
	e := NewPrometheusExporter()

	if err := e.Handle(context.Background(), throttledMetrics()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	unthrottled := throttledMetrics()
	unthrottled.ThrottledCount = nil
	unthrottled.CollectionSizeUsageKB = nil
	unthrottled.TotalRequestCharge = 1
	e.Record(unthrottled)
	e.RecordPublishFailure()

	if got := testutil.ToFloat64(e.requestsTotal.WithLabelValues("Patient", "create")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(e.throttledTotal.WithLabelValues("Patient", "create")); got != 1 {
		t.Fatalf("expected 1 throttled request, got %v", got)
	}
	if got := testutil.ToFloat64(e.chargeTotal.WithLabelValues("Patient", "create")); got != 3.5 {
		t.Fatalf("expected total charge 3.5, got %v", got)
	}
	if got := testutil.ToFloat64(e.collectionSize); got != 2048 {
		t.Fatalf("expected collection size 2048, got %v", got)
	}
	if got := testutil.ToFloat64(e.publishFailures); got != 1 {
		t.Fatalf("expected 1 publish failure, got %v", got)
	}

	expected := `
# HELP docstore_throttled_requests_total Total number of document store calls rejected by rate limiting
# TYPE docstore_throttled_requests_total counter
docstore_throttled_requests_total{audit_event_type="create",resource_type="Patient"} 1
`
	if err := testutil.GatherAndCompare(e.Registry(), strings.NewReader(expected), "docstore_throttled_requests_total"); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestLogSubscriberWritesDebugLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rc := domain.NewRequestContext("req-42", "Patient", "create")
	ctx := domain.WithRequestContext(context.Background(), rc)

	if err := NewLogSubscriber(logger).Handle(ctx, throttledMetrics()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"document store call"`, `"request_id":"req-42"`, `"throttled":true`, `"collection_size_kb":2048`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %s, got %s", want, out)
		}
	}
}

type otherNotification struct{}

func (otherNotification) NotificationName() string { return "other" }
