// Package telemetry installs the OpenTelemetry metric pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs an OTLP/gRPC metric exporter when OTEL_EXPORTER_OTLP_ENDPOINT
// is set. Otherwise the global no-op meter stays in place. OTEL_SERVICE_NAME
// overrides serviceName.
func Init(ctx context.Context, serviceName string) (Shutdown, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return noop, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return install(ctx, serviceName, sdkmetric.NewPeriodicReader(exporter))
}

func install(ctx context.Context, serviceName string, reader sdkmetric.Reader) (Shutdown, error) {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		serviceName = name
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	log.Printf("OpenTelemetry metrics initialized (service %s)", serviceName)
	return mp.Shutdown, nil
}
