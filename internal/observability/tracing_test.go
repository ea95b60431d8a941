package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, TraceConfig{}), recorder
}

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.TraceEvent(context.Background(), "stop", "s")
	defer span.End()
	if tracer.config.ServiceName != "hookguard" || tracer.config.SamplingRate != 1 {
		t.Errorf("config = %+v", tracer.config)
	}
	if id, _ := SpanIDs(ctx); id != "" {
		t.Error("no-op tracer should not produce a valid trace id")
	}
}

func TestTraceEventAndRun(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, root := tracer.TraceEvent(context.Background(), "pre_tool_use", "sess-1")
	if traceID, spanID := SpanIDs(ctx); traceID == "" || spanID == "" {
		t.Fatal("expected trace and span ids")
	}
	err := tracer.Run(ctx, "pre_check", func(ctx context.Context) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("Run should return fn error")
	}
	root.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Name() != "pre_check" || child.Status().Code != codes.Error {
		t.Errorf("child = %s %v", child.Name(), child.Status())
	}
	if parent.Name() != "hookguard.pre_tool_use" || child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Errorf("parent = %s", parent.Name())
	}
	var sawSession bool
	for _, kv := range parent.Attributes() {
		if kv.Key == "session.id" && kv.Value.AsString() == "sess-1" {
			sawSession = true
		}
	}
	if !sawSession {
		t.Errorf("attributes = %v", parent.Attributes())
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.Start(context.Background(), "x", "k", 1)
	span.End()
	if id, _ := SpanIDs(ctx); id != "" {
		t.Error("nil tracer should not start spans")
	}
	if err := tracer.Run(context.Background(), "y", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestToAttributes(t *testing.T) {
	attrs := toAttributes([]any{"n", 3, 7, "skipped", "e", errors.New("bad"), "s", struct{ A int }{1}, "dangling"})
	if len(attrs) != 3 {
		t.Fatalf("attrs = %v", attrs)
	}
	if attrs[0].Value.AsInt64() != 3 || attrs[1].Value.AsString() != "bad" || attrs[2].Value.AsString() != "{1}" {
		t.Errorf("attrs = %v", attrs)
	}
}
