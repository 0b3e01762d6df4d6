package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InstrumentationName scopes the tracer and meter.
const InstrumentationName = "github.com/ironsheep/visionstruct-mcp"

// Config configures the telemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint is an OTLP/HTTP traces URL such as
	// http://localhost:4318/v1/traces. Empty disables trace export.
	OTLPEndpoint string

	// MetricReader, when set, is attached to the meter provider.
	MetricReader sdkmetric.Reader

	// SpanProcessor, when set, is attached to the tracer provider in
	// addition to any exporter.
	SpanProcessor sdktrace.SpanProcessor
}

// Providers holds the SDK providers and the Observer built on them.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Observer       *Observer
}

// Setup builds tracer and meter providers, installs them as the global
// OpenTelemetry providers, and returns an Observer using them.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	if cfg.SpanProcessor != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(cfg.SpanProcessor))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(cfg.MetricReader))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	obs, err := NewObserver(mp.Meter(InstrumentationName), tp.Tracer(InstrumentationName))
	if err != nil {
		return nil, errors.Join(err, tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	return &Providers{TracerProvider: tp, MeterProvider: mp, Observer: obs}, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(p.TracerProvider.Shutdown(ctx), p.MeterProvider.Shutdown(ctx))
}
