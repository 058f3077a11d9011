// Package telemetry initializes the OpenTelemetry meter provider used for
// the write pipeline's queue-depth counter and batch-size histogram. Exporting those metrics to a backend (OTLP, Prometheus, ...) is the
// host application's concern; this package only wires the in-process SDK so
// instruments registered by internal packages have somewhere to report to.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Shutdown releases meter provider resources during graceful shutdown.
type Shutdown func(ctx context.Context) error

// Init installs the global OpenTelemetry meter provider. serviceName and
// version are attached as resource attributes to every emitted metric.
// Callers that need the metrics exported somewhere should attach a reader
// via sdkmetric options in their own wiring and call Init from there instead;
// this default wires no reader, which is harmless (observable instruments are
// simply never collected) and keeps the core free of exporter dependencies.
func Init(ctx context.Context, serviceName, version string) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	}
	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}
