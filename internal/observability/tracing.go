package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "hookguard"

// TraceConfig configures span export. Tracing is off unless Endpoint is set.
type TraceConfig struct {
	ServiceName    string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	ServiceVersion string `yaml:"service_version,omitempty" json:"service_version,omitempty"`
	Environment    string `yaml:"environment,omitempty" json:"environment,omitempty"`

	// Endpoint is an OTLP/gRPC collector, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`

	// SamplingRate applies to root spans; 0 means 1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty" jsonschema:"minimum=0,maximum=1"`

	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

func (c TraceConfig) withDefaults() TraceConfig {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1
	}
	return c
}

func (c TraceConfig) sampler() sdktrace.Sampler {
	switch {
	case c.SamplingRate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case c.SamplingRate < 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SamplingRate))
}

func (c TraceConfig) resource() *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	if c.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(c.Environment))
	}
	for k, v := range c.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// Tracer opens one root span per lifecycle event and child spans for its
// stages. A nil *Tracer is valid and records nothing.
type Tracer struct {
	tracer trace.Tracer
	config TraceConfig
}

// NewTracer builds a tracer and the function that flushes it. Hook processes
// are short lived, so the flush must run before exit. Without an endpoint,
// or when the exporter cannot be built, spans go to the global no-op
// provider.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	config = config.withDefaults()
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(config.resource()),
		sdktrace.WithSampler(config.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return NewTracerFromProvider(provider, config), provider.Shutdown
}

// NewTracerFromProvider wraps an existing provider, e.g. a test recorder.
func NewTracerFromProvider(provider trace.TracerProvider, config TraceConfig) *Tracer {
	config = config.withDefaults()
	return &Tracer{tracer: provider.Tracer(config.ServiceName), config: config}
}

// TraceEvent starts the root span for a hook event.
func (t *Tracer) TraceEvent(ctx context.Context, event, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, defaultServiceName+"."+event,
		"hook.event", event,
		"session.id", sessionID,
	)
}

// Start opens a span with alternating key/value attributes.
func (t *Tracer) Start(ctx context.Context, name string, keyvals ...any) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(keyvals)...))
}

// Run calls fn inside a span named name. An error from fn fails the span.
func (t *Tracer) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := t.Start(ctx, name)
	defer span.End()
	err := fn(ctx)
	t.RecordError(span, err)
	return err
}

// RecordError marks span failed. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	if span == nil {
		return
	}
	span.SetAttributes(toAttributes(keyvals)...)
}

// SpanIDs returns the hex trace and span ids active in ctx, or empty strings.
func SpanIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// toAttributes skips pairs whose key is not a string. A trailing key with no
// value is dropped.
func toAttributes(keyvals []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			out = append(out, toAttribute(key, keyvals[i+1]))
		}
	}
	return out
}

func toAttribute(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case error:
		return attribute.String(key, v.Error())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	}
	return attribute.String(key, fmt.Sprint(val))
}
