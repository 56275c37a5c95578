package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "callnet"

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config contains tracing configuration
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "callnet",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init installs a global jaeger-backed tracer provider. Disabled configs return a no-op provider.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Common span attributes
var (
	CallIDKey     = attribute.Key("call.id")
	RoomIDKey     = attribute.Key("call.room_id")
	UserIDKey     = attribute.Key("user.id")
	CallStatusKey = attribute.Key("call.status")
	SignalKindKey = attribute.Key("signal.kind")
	VideoKey      = attribute.Key("call.video")
)

// TraceHTTPRequest traces an HTTP request
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(path),
		),
	)
}

// TraceCallOperation traces a lifecycle operation on one call.
func TraceCallOperation(ctx context.Context, operation, callID, roomID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call."+operation,
		trace.WithAttributes(
			CallIDKey.String(callID),
			RoomIDKey.String(roomID),
		),
	)
}

// TraceSignal traces one signaling envelope in the given direction ("send" or "relay").
func TraceSignal(ctx context.Context, direction, kind, roomID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+direction,
		trace.WithAttributes(
			SignalKindKey.String(kind),
			RoomIDKey.String(roomID),
		),
	)
}

// TraceStoreOperation traces a call store operation.
func TraceStoreOperation(ctx context.Context, operation, collection string) (context.Context, trace.Span) {
	return StartSpan(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.collection", collection),
		),
	)
}
