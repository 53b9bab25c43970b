// ABOUTME: OpenTelemetry tracing setup with an opt-in OTLP HTTP exporter
// ABOUTME: Returns a no-op shutdown when no endpoint is configured

// Package telemetry installs the process-wide OpenTelemetry providers.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/2389/voice-gateway/internal/config"
)

// InstrumentationName names the meter and tracer of the gateway.
const InstrumentationName = "github.com/2389/voice-gateway"

// Setup initialises tracing for the service.
//
// Tracing is opt-in: with an empty OTLPEndpoint no global provider is
// registered and the returned shutdown does nothing. Otherwise the shutdown
// flushes pending spans and should be called before exit.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if cfg.OTLPEndpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("creating otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "voice-gateway"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Meter returns the gateway's meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}
