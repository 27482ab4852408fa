package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracerNoOpByDefault(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	if tracer.tracer == nil {
		t.Error("tracer.tracer is nil")
	}
}

func TestNewTracerWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName:  "sidecar-test",
		Output:       "file:" + path,
		SamplingRate: 1.0,
	})

	ctx, span := tracer.TraceRunStep(context.Background(), "run-1", "planning")
	span.End()
	_ = ctx

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading trace sink: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected trace output to be written to the file sink")
	}
}

func TestTracerStart(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	if span == nil {
		t.Fatal("Start() returned nil span")
	}
}

func TestSpanWithAttributes(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation", SpanOptions{
		Kind: trace.SpanKindServer,
		Attributes: []attribute.KeyValue{
			attribute.String("key1", "value1"),
			attribute.Int("key2", 42),
		},
	})
	defer span.End()

	if span == nil {
		t.Fatal("Start() with attributes returned nil span")
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")

	tracer.RecordError(span, errors.New("test error"))
	span.End()

	tracer.RecordError(span, nil) // should not panic
}

func TestSetAttributesAndAddEvent(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	tracer.SetAttributes(span,
		"string_key", "string_value",
		"int_key", 42,
		"int64_key", int64(123),
		"float_key", 3.14,
		"bool_key", true,
	)
	tracer.AddEvent(span, "test-event", "key1", "value1")

	// odd argument count and non-string keys must be tolerated, not panic
	tracer.SetAttributes(span, "key1", "value1", "key2")
	tracer.SetAttributes(span, 123, "value")
}

func TestTraceRunStepAndToolDispatch(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()

	_, stepSpan := tracer.TraceRunStep(ctx, "run-1", "observing")
	defer stepSpan.End()

	_, toolSpan := tracer.TraceToolDispatch(ctx, "run-1", "req-1", "browser.click")
	defer toolSpan.End()

	_, policySpan := tracer.TracePolicyDecision(ctx, "run-1", "browser.click")
	defer policySpan.End()

	_, eventSpan := tracer.TraceEventAppend(ctx, "run-1", "tool.request")
	defer eventSpan.End()
}

func TestInjectExtractContext(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	carrier := make(MapCarrier)
	tracer.InjectContext(ctx, carrier)

	newCtx := tracer.ExtractContext(context.Background(), carrier)
	if newCtx == nil {
		t.Error("ExtractContext returned nil")
	}
}

func TestSpanFromContext(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	if SpanFromContext(ctx) == nil {
		t.Error("SpanFromContext returned nil")
	}
	if SpanFromContext(context.Background()) == nil {
		t.Error("SpanFromContext should return non-nil span even for empty context")
	}
}

func TestContextWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	newCtx := ContextWithSpan(context.Background(), span)
	if SpanFromContext(newCtx) == nil {
		t.Error("Expected span in new context")
	}
}

func TestWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()

	if err := WithSpan(ctx, tracer, "test-operation", func(ctx context.Context, span trace.Span) error {
		return nil
	}); err != nil {
		t.Errorf("WithSpan returned error: %v", err)
	}

	testErr := errors.New("test error")
	err := WithSpan(ctx, tracer, "test-operation", func(ctx context.Context, span trace.Span) error {
		return testErr
	})
	if err != testErr {
		t.Errorf("expected propagated error, got %v", err)
	}
}

func TestGetTraceIDAndSpanID(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	_ = GetTraceID(ctx)
	_ = GetSpanID(ctx)

	if GetTraceID(context.Background()) != "" {
		t.Error("expected empty trace ID for context without span")
	}
	if GetSpanID(context.Background()) != "" {
		t.Error("expected empty span ID for context without span")
	}
}

func TestMapCarrier(t *testing.T) {
	carrier := make(MapCarrier)

	carrier.Set("key1", "value1")
	carrier.Set("key2", "value2")

	if carrier.Get("key1") != "value1" {
		t.Error("MapCarrier.Get failed")
	}
	if carrier.Get("nonexistent") != "" {
		t.Error("MapCarrier.Get should return empty string for missing key")
	}
	if len(carrier.Keys()) != 2 {
		t.Errorf("expected 2 keys, got %d", len(carrier.Keys()))
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"string", "str_key", "string_value"},
		{"int", "int_key", 42},
		{"int64", "int64_key", int64(123)},
		{"float64", "float_key", 3.14},
		{"bool", "bool_key", true},
		{"string slice", "str_slice_key", []string{"a", "b", "c"}},
		{"other", "other_key", struct{ Field string }{"value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := attributeFromValue(tt.key, tt.value)
			if attr.Key != attribute.Key(tt.key) {
				t.Errorf("expected key %s, got %s", tt.key, attr.Key)
			}
		})
	}
}

func TestTracerWithEnvironmentAndAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName:    "sidecar-test",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		Output:         "file:" + path,
		Attributes:     map[string]string{"region": "local"},
	})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
}

func TestTracerSamplingRates(t *testing.T) {
	for _, rate := range []float64{1.0, 0.0, 0.5, 0.1} {
		path := filepath.Join(t.TempDir(), "trace.log")
		tracer, shutdown := NewTracer(TraceConfig{
			ServiceName:  "sidecar-test",
			Output:       "file:" + path,
			SamplingRate: rate,
		})

		ctx := context.Background()
		for i := 0; i < 10; i++ {
			_, span := tracer.Start(ctx, "test-operation")
			span.End()
		}
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown returned error: %v", err)
		}
	}
}

func TestNestedSpans(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	parentCtx, parentSpan := tracer.Start(ctx, "parent-operation")
	defer parentSpan.End()

	childCtx, childSpan := tracer.Start(parentCtx, "child-operation")
	defer childSpan.End()

	if childCtx == nil || parentCtx == nil {
		t.Error("expected valid parent and child contexts")
	}
}

func TestSpanWithError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")

	testErr := errors.New("operation failed")
	tracer.RecordError(span, testErr)
	span.SetStatus(codes.Error, testErr.Error())
	span.End()
}

func TestMultipleTracersIndependent(t *testing.T) {
	tracer1, shutdown1 := NewTracer(TraceConfig{ServiceName: "service-1"})
	defer func() { _ = shutdown1(context.Background()) }()

	tracer2, shutdown2 := NewTracer(TraceConfig{ServiceName: "service-2"})
	defer func() { _ = shutdown2(context.Background()) }()

	ctx := context.Background()

	_, span1 := tracer1.Start(ctx, "operation-1")
	defer span1.End()

	_, span2 := tracer2.Start(ctx, "operation-2")
	defer span2.End()
}

func TestTracerShutdown(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "sidecar-test"})

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
}
