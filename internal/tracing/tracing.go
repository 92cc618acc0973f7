// Package tracing wraps OpenTelemetry setup and the span and attribute
// helpers shared by the bridge binaries.
package tracing

import (
	"context"
	"fmt"

	lambdadetector "go.opentelemetry.io/contrib/detectors/aws/lambda"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jarrod-lowe/webview-ipc-bridge"

// RequestID returns the request id attribute
func RequestID(id string) attribute.KeyValue {
	return attribute.String("request_id", id)
}

// Function returns the function name attribute
func Function(name string) attribute.KeyValue {
	return attribute.String("function", name)
}

// Module returns the IPC module tag attribute
func Module(module string) attribute.KeyValue {
	return attribute.String("ipc.module", module)
}

// Command returns the IPC command attribute
func Command(command string) attribute.KeyValue {
	return attribute.String("ipc.command", command)
}

// Window returns the originating window label attribute
func Window(label string) attribute.KeyValue {
	return attribute.String("ipc.window", label)
}

// Event returns the event name attribute
func Event(name string) attribute.KeyValue {
	return attribute.String("ipc.event", name)
}

// StartHandlerSpan starts a span for a unit of request handling
func StartHandlerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartColdStartSpan starts the span covering process initialisation
func StartColdStartSpan(ctx context.Context, function string) (context.Context, trace.Span) {
	return StartHandlerSpan(ctx, "ColdStart", Function(function))
}

// RecordError marks span as failed with err
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InitPropagator installs X-Ray and W3C trace context propagation
func InitPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Init creates a tracer provider for a Lambda function. Spans are exported
// over OTLP/gRPC to the collector extension with X-Ray compatible ids.
func Init(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := lambdadetector.NewResourceDetector().Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect lambda resource: %w", err)
	}

	InitPropagator()

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(xray.NewIDGenerator()),
	), nil
}

// Setup initialises tracing for a long-running service.
//
// Tracing is opt-in: when endpoint is empty Setup returns a no-op shutdown
// function and no global provider is registered.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	InitPropagator()

	return tp.Shutdown, nil
}
