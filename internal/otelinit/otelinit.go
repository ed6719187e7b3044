// Package otelinit wires OpenTelemetry tracing and metrics for the control
// plane the way pkg/observability wires it for HELM: a small Config, an
// OTLP/gRPC exporter pair, and a Provider that exposes a Tracer/Meter plus
// a RED (rate, errors, duration) instrument set reused across subsystems.
package otelinit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and how telemetry is exported.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
	BatchTimeout time.Duration
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns sane development defaults.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      false,
		Insecure:     true,
	}
}

// Provider exposes the Tracer/Meter plus a shared RED instrument set.
type Provider struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	RequestCount metric.Int64Counter
	ErrorCount   metric.Int64Counter
	Duration     metric.Float64Histogram
}

// New builds a Provider. When cfg.Enabled is false it returns a no-op
// Provider backed by the global (no-op) otel implementations so callers
// never need to nil-check.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{cfg: cfg}

	if !cfg.Enabled {
		p.tracer = otel.Tracer(cfg.ServiceName)
		p.meter = otel.Meter(cfg.ServiceName)
		if err := p.initREDMetrics(); err != nil {
			return nil, err
		}
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("otelinit: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otelinit: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(p.tracerProvider)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("otelinit: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer(cfg.ServiceName)
	p.meter = otel.Meter(cfg.ServiceName)

	if err := p.initREDMetrics(); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "otel initialized", "service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initREDMetrics() error {
	var err error
	p.RequestCount, err = p.meter.Int64Counter("openagents.requests", metric.WithDescription("requests handled"))
	if err != nil {
		return err
	}
	p.ErrorCount, err = p.meter.Int64Counter("openagents.errors", metric.WithDescription("requests that failed"))
	if err != nil {
		return err
	}
	p.Duration, err = p.meter.Float64Histogram("openagents.duration_ms", metric.WithDescription("operation duration in milliseconds"))
	return err
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and releases exporters. Safe to call on a no-op Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		return p.meterProvider.Shutdown(ctx)
	}
	return nil
}
