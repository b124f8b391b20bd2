// Copyright 2025 James Ross
package obs

import (
	"context"
	"os"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// MaybeInitTracing initializes a global OTLP/HTTP tracer provider when
// tracing is enabled and an endpoint is configured. Returns a nil provider
// (not an error) when tracing is simply off.
func MaybeInitTracing(cfg config.TracingConfig, serviceName string) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
		attribute.String("host.name", hostname),
		attribute.String("environment", cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// TracerShutdown flushes and stops tp, tolerating a nil provider.
func TracerShutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// TracingChannel starts a span named "channel.compute" around the rest of
// the chain, tagging it with the request's op and effective handle.
type TracingChannel struct {
	channel.Base
}

// NewTracing constructs a tracing entry point for a chain.
func NewTracing(id string) *TracingChannel {
	return &TracingChannel{Base: channel.NewBase(id)}
}

func (c *TracingChannel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	tracer := otel.Tracer("channel")
	ctx, span := tracer.Start(ctx, "channel.compute", trace.WithAttributes(
		attribute.String("channel.op", input.Op.String()),
		attribute.String("channel.handle", input.EffectiveHandle()),
	))
	defer span.End()

	out, err := c.Next(ctx, cctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
