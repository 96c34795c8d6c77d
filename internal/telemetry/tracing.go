// Package telemetry wires an OpenTelemetry tracer provider for the
// dispatch -> worker RPC -> stage-check call chain. Tracing is inert
// unless OTEL_SERVICE_NAME is set, so a plain `fleetctl`/daemon run with
// no collector configured pays nothing for it.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Shutdown flushes and tears down the tracer provider installed by Init.
type Shutdown func(context.Context) error

// Init installs a tracer provider for component (e.g. "fleet-coordinatord",
// "fleet-workerd") if OTEL_SERVICE_NAME is set in the environment, and a
// no-op provider otherwise.
func Init(ctx context.Context, component string) (Shutdown, error) {
	if os.Getenv("OTEL_SERVICE_NAME") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithAttributes(semconv.ServiceNameKey.String(component)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the named tracer from the global provider (real or no-op).
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
