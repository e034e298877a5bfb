// Package telemetry sets up OpenTelemetry tracing and wraps storage calls in
// spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/store"
)

const instrumentationName = "github.com/JakeFAU/site-tracker"

// Options selects how spans are produced.
type Options struct {
	Enabled     bool
	ServiceName string
	// SampleRatio is the fraction of root spans kept.
	SampleRatio float64
}

// InitTracerProvider installs the global tracer provider and returns its
// shutdown function. Disabled tracing installs a no-op provider. Enabled
// tracing samples root spans by ratio and writes finished spans to logger.
func InitTracerProvider(ctx context.Context, opts Options, logger *zap.Logger) (func(context.Context) error, error) {
	if !opts.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithBatcher(NewLogExporter(logger)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed with the error's kind when err is set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", string(store.KindOf(err))))
	}
	span.End()
}

// Blob returns the attributes of a blob operation.
func Blob(backend, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("blob.backend", backend),
		attribute.String("blob.path", path),
	}
}
