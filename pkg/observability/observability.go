// Package observability provides OpenTelemetry-based tracing and metrics for
// the collective engine, plus the slog logger every other package is handed.
// Adapted from the teacher's pkg/observability/observability.go: the RED
// (Rate, Errors, Duration) metric triad is kept, renamed from per-HTTP-request
// to per-op/per-step, and a slot-window occupancy gauge is added for spec
// section 3's bounded concurrency window.
package observability

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
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults suitable for a single worker process.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "ucg-engine",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages OpenTelemetry trace and metric providers and the logger
// handed to every other package in the engine.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	opCounter      metric.Int64Counter
	errorCounter   metric.Int64Counter
	stepDuration   metric.Float64Histogram
	activeOps      metric.Int64UpDownCounter
	fragmentCount  metric.Int64Counter
	resendCount    metric.Int64Counter
	slotOccupancy  metric.Int64UpDownCounter
}

// New creates a new observability provider. A nil logger falls back to
// slog.Default(). Disabled config (the default) keeps tracer/meter as no-ops
// via the otel global fallbacks, which is what unit tests use.
func New(ctx context.Context, config *Config, logger *slog.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{config: config, logger: logger.With("component", "observability")}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("ucg.component", "engine"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("ucg.engine", trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("ucg.engine", metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	if p.opCounter, err = p.meter.Int64Counter("ucg.ops.total",
		metric.WithDescription("Total collectives started"), metric.WithUnit("{op}")); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("ucg.errors.total",
		metric.WithDescription("Total op/step failures"), metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.stepDuration, err = p.meter.Float64Histogram("ucg.step.duration",
		metric.WithDescription("Op completion latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0)); err != nil {
		return err
	}
	if p.activeOps, err = p.meter.Int64UpDownCounter("ucg.ops.active",
		metric.WithDescription("Currently in-flight collectives"), metric.WithUnit("{op}")); err != nil {
		return err
	}
	if p.fragmentCount, err = p.meter.Int64Counter("ucg.fragments.total",
		metric.WithDescription("Fragments sent or received"), metric.WithUnit("{fragment}")); err != nil {
		return err
	}
	if p.resendCount, err = p.meter.Int64Counter("ucg.resends.total",
		metric.WithDescription("Step resends issued after a retryable transport error"), metric.WithUnit("{resend}")); err != nil {
		return err
	}
	if p.slotOccupancy, err = p.meter.Int64UpDownCounter("ucg.slots.occupied",
		metric.WithDescription("Occupied entries in the group's completion-slot window"), metric.WithUnit("{slot}")); err != nil {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Logger returns the logger every engine component should use.
func (p *Provider) Logger() *slog.Logger { return p.logger }

// Tracer returns the configured tracer, falling back to the global one.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("ucg.engine")
	}
	return p.tracer
}

// StartSpan starts a span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// TrackOp starts a span and RED-metric bundle for one materialized op,
// returning a completion function the op's final_cb should call exactly once.
func (p *Provider) TrackOp(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))

	if p.activeOps != nil {
		p.activeOps.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.opCounter != nil {
		p.opCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		duration := time.Since(start)
		if p.activeOps != nil {
			p.activeOps.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.stepDuration != nil {
			p.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				allAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
			}
		}
		span.End()
	}
}

// RecordFragment increments the fragment counter for a single sent or
// received fragment.
func (p *Provider) RecordFragment(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.fragmentCount != nil {
		p.fragmentCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordResend increments the resend counter when the step executor replays
// a step after a retryable transport error.
func (p *Provider) RecordResend(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.resendCount != nil {
		p.resendCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// SetSlotOccupancy adjusts the slot-window occupancy gauge by delta (+1 on
// start, -1 on completion).
func (p *Provider) SetSlotOccupancy(ctx context.Context, delta int64, attrs ...attribute.KeyValue) {
	if p.slotOccupancy != nil {
		p.slotOccupancy.Add(ctx, delta, metric.WithAttributes(attrs...))
	}
}
