// Package telemetry is the process-wide OpenTelemetry handle: a
// TracerProvider for per-step dispatch spans and a MeterProvider for the
// step-dispatch and security-rejection counters. GET /security/metrics does
// not read these; it reports the security filter's own atomic counters. It
// carries no exporter — spans
// and metrics stay in-process, ready for whatever collector a deployment
// wants to attach later.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles the tracer and instruments used across the engine and
// the security filter. A nil *Provider is valid everywhere it's consulted:
// every method degrades to a no-op so telemetry wiring stays optional.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	tracer trace.Tracer

	stepDispatches metric.Int64Counter
	secRejections  metric.Int64Counter
}

// New builds a Provider and installs it as the global OTel tracer/meter
// provider for serviceName.
func New(serviceName string) (*Provider, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)

	stepDispatches, err := meter.Int64Counter("engine.step.dispatches",
		metric.WithDescription("step dispatch outcomes by step_type/outcome"))
	if err != nil {
		return nil, err
	}
	secRejections, err := meter.Int64Counter("secfilter.rejections",
		metric.WithDescription("security filter rejections by reject_code"))
	if err != nil {
		return nil, err
	}

	return &Provider{
		tp:             tp,
		mp:             mp,
		tracer:         tp.Tracer(serviceName),
		stepDispatches: stepDispatches,
		secRejections:  secRejections,
	}, nil
}

// StepSpan starts a span for one step dispatch. The returned func ends the
// span, tags it with outcome, and increments the dispatch counter; call it
// exactly once.
func (p *Provider) StepSpan(ctx context.Context, stepID, stepType string) (context.Context, func(outcome string)) {
	if p == nil {
		return ctx, func(string) {}
	}
	ctx, span := p.tracer.Start(ctx, "engine.step.dispatch",
		trace.WithAttributes(
			attribute.String("step_id", stepID),
			attribute.String("step_type", stepType),
		))
	return ctx, func(outcome string) {
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		p.stepDispatches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step_type", stepType),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordSecurityRejection increments the rejection counter for code.
func (p *Provider) RecordSecurityRejection(ctx context.Context, code string) {
	if p == nil {
		return
	}
	p.secRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reject_code", code)))
}

// Shutdown flushes and releases the underlying providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
