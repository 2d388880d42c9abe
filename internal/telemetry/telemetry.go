// Package telemetry initializes the OpenTelemetry meter provider and
// registers instruments for merge duration, cache hit ratio, circuit-breaker
// trips, and service pipeline duration. No code in this module records
// values into those instruments.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown stops telemetry export.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry meter provider with the given
// service name. Readers are supplied by the caller (e.g. a periodic OTLP
// reader in a hosting application, or a manual reader in tests); passing no
// readers yields a provider that only tracks instrument registration
// without exporting anything.
func Init(ctx context.Context, serviceName, version string, readers ...sdkmetric.Reader) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	}, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Instruments bundles the histograms/counters NewInstruments registers. The
// Toolkit holds them but does not record values into them.
type Instruments struct {
	MergeDuration   metric.Float64Histogram
	CacheHitRatio   metric.Float64Histogram
	ServiceDuration metric.Float64Histogram
	BreakerTrips    metric.Int64Counter
}

// NewInstruments registers every instrument the toolkit emits against the
// given meter.
func NewInstruments(meter metric.Meter) (Instruments, error) {
	var inst Instruments
	var err error

	inst.MergeDuration, err = meter.Float64Histogram("resolve.merge.duration",
		metric.WithDescription("Time to execute a merge (ms)"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return Instruments{}, fmt.Errorf("telemetry: register merge duration histogram: %w", err)
	}

	inst.CacheHitRatio, err = meter.Float64Histogram("resolve.cache.hit_ratio",
		metric.WithDescription("Cache hit ratio sampled per lookup batch"),
	)
	if err != nil {
		return Instruments{}, fmt.Errorf("telemetry: register cache hit ratio histogram: %w", err)
	}

	inst.ServiceDuration, err = meter.Float64Histogram("resolve.service.pipeline_duration",
		metric.WithDescription("Time to execute a service pipeline phase (ms)"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return Instruments{}, fmt.Errorf("telemetry: register service pipeline duration histogram: %w", err)
	}

	inst.BreakerTrips, err = meter.Int64Counter("resolve.breaker.trips",
		metric.WithDescription("Count of circuit breaker trips to Open"),
	)
	if err != nil {
		return Instruments{}, fmt.Errorf("telemetry: register breaker trips counter: %w", err)
	}

	return inst, nil
}
