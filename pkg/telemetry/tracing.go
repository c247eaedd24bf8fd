// Package telemetry installs the OpenTelemetry tracer provider that the
// archive packages report their spans to.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.19.0"
)

type Tracing struct {
	logger         *slog.Logger
	serviceName    string
	serviceVersion string
	sampleRatio    float64
	exporter       sdktrace.SpanExporter
	syncExport     bool
	provider       *sdktrace.TracerProvider
}

// StartTracing builds a tracer provider and installs it globally. Without
// WithExporter, spans go to the OTLP/HTTP endpoint named by the standard
// OTEL_EXPORTER_OTLP_* environment. The returned func flushes and stops it.
func StartTracing(ctx context.Context, opts ...TracingOption) (func(context.Context) error, error) {
	t := &Tracing{
		logger:      slog.Default(),
		serviceName: "essencefs",
		sampleRatio: 1.0,
	}
	for _, opt := range opts {
		opt(t)
	}
	logger := t.logger.With("component", "telemetry")

	if t.sampleRatio < 0 || t.sampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio %v outside [0, 1]", t.sampleRatio)
	}

	if t.exporter == nil {
		exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		t.exporter = exporter
	}

	t.provider = t.newTraceProvider()
	otel.SetTracerProvider(t.provider)

	logger.Info("started tracing", "service", t.serviceName, "version", t.serviceVersion, "sample_ratio", t.sampleRatio)
	return t.provider.Shutdown, nil
}

func (t *Tracing) newTraceProvider() *sdktrace.TracerProvider {
	attrs := []attribute.KeyValue{semconv.ServiceName(t.serviceName)}
	if t.serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(t.serviceVersion))
	}
	r := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	// Child spans follow their parent's sampling decision.
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.sampleRatio))

	export := sdktrace.WithBatcher(t.exporter)
	if t.syncExport {
		export = sdktrace.WithSyncer(t.exporter)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		export,
		sdktrace.WithResource(r),
	)
}

// TracingOption is a functional option for configuring the Tracing.
type TracingOption func(*Tracing)

// WithLogger sets the logger used to report tracing startup.
func WithLogger(logger *slog.Logger) TracingOption {
	return func(t *Tracing) {
		t.logger = logger
	}
}

// WithServiceName sets the service name for tracing.
// Defaults to "essencefs".
func WithServiceName(name string) TracingOption {
	return func(t *Tracing) {
		t.serviceName = name
	}
}

// WithServiceVersion records the build version on the trace resource.
func WithServiceVersion(version string) TracingOption {
	return func(t *Tracing) {
		t.serviceVersion = version
	}
}

// WithSampleRatio sets the sample ratio for tracing.
// Defaults to 1.0.
func WithSampleRatio(ratio float64) TracingOption {
	return func(t *Tracing) {
		t.sampleRatio = ratio
	}
}

// WithExporter sets a custom span exporter for tracing.
func WithExporter(exporter sdktrace.SpanExporter) TracingOption {
	return func(t *Tracing) {
		t.exporter = exporter
	}
}

// WithSyncExport exports each span as it ends instead of batching.
func WithSyncExport() TracingOption {
	return func(t *Tracing) {
		t.syncExport = true
	}
}
