// Package tracing wires OpenTelemetry into the gateway. Tracing is off by
// default: without an OTLP_ENDPOINT the package hands out a no-op tracer
// and every helper degrades to a cheap nil check, so handlers and upstream
// clients can instrument unconditionally.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// ServiceName identifies the gateway in exported traces.
	ServiceName = "geogate"
	// TracerName is the instrumentation scope for gateway spans.
	TracerName = "github.com/NERVsystems/geogate"

	shutdownTimeout = 5 * time.Second
)

// Tracer is the process-wide tracer. It starts as a no-op and is swapped
// for a real one by InitTracing when an exporter is configured.
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer(TracerName)

// InitTracing sets up the OTLP gRPC exporter when OTLP_ENDPOINT is set and
// returns a shutdown function that flushes pending spans. With no endpoint
// configured it installs the no-op tracer and the returned shutdown does
// nothing.
func InitTracing(ctx context.Context, version string) (shutdown func(context.Context) error, err error) {
	endpoint := os.Getenv("OTLP_ENDPOINT")
	if endpoint == "" {
		Tracer = noop.NewTracerProvider().Tracer(TracerName)
		return func(context.Context) error { return nil }, nil
	}

	// The collector sits next to the gateway; the OTLP hop stays plaintext.
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
			attribute.String("service.environment", getEnvironment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFromEnv()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = tp.Tracer(TracerName)

	return func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(flushCtx)
	}, nil
}

// samplerFromEnv reads OTLP_SAMPLE_RATIO as a fraction of traces to keep.
// Absent or unparseable values sample everything, which suits the gateway's
// low request volume.
func samplerFromEnv() sdktrace.Sampler {
	raw := os.Getenv("OTLP_SAMPLE_RATIO")
	if raw == "" {
		return sdktrace.AlwaysSample()
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// StartSpan opens a span on the process tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, opts...)
}

// RecordError records err on the span carried by ctx, if one is recording.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		span.RecordError(err, opts...)
	}
}

// SetStatus sets the status of the span carried by ctx.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// AddEvent adds an event to the span carried by ctx.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		span.AddEvent(name, opts...)
	}
}

// SetAttributes sets attributes on the span carried by ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
