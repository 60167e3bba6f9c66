package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "github.com/vikashloomba/mcp-toolhub-go"

// Config selects the exporters behind Providers.
type Config struct {
	ServiceName string
	// OTLPEndpoint is an OTLP/HTTP traces URL such as
	// http://localhost:4318/v1/traces. Empty keeps spans in-process.
	OTLPEndpoint string
	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
	// MetricReader collects metrics; nil leaves them unexported.
	MetricReader sdkmetric.Reader
	// SpanExporter overrides the OTLP exporter, mostly for tests.
	SpanExporter sdktrace.SpanExporter
}

// Providers owns the SDK tracer and meter providers.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// NewProviders builds tracer and meter providers for cfg.
func NewProviders(ctx context.Context, cfg Config) (*Providers, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "toolhub"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch {
	case cfg.SpanExporter != nil:
		traceOpts = append(traceOpts, sdktrace.WithSyncer(cfg.SpanExporter))
	case cfg.OTLPEndpoint != "":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observability: otlp exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(cfg.MetricReader))
	}
	return &Providers{
		Tracer: sdktrace.NewTracerProvider(traceOpts...),
		Meter:  sdkmetric.NewMeterProvider(meterOpts...),
	}, nil
}

// Observer creates an Observer bound to these providers.
func (p *Providers) Observer() (*Observer, error) {
	return NewObserver(p.Meter.Meter(instrumentationName), p.Tracer.Tracer(instrumentationName))
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}
