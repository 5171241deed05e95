// Package telemetry initializes OpenTelemetry tracing and the custom
// metrics rigsd exports: dispatch latency, reservation counts, and
// circuit-breaker state transitions.
package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Tracer is the global tracer, valid once Init has run.
	Tracer trace.Tracer
	// Meter is the global meter, valid once Init has run.
	Meter metric.Meter

	DispatchLatency    metric.Float64Histogram
	ReservationsTotal  metric.Int64Counter
	ReservationsActive metric.Int64UpDownCounter
	CircuitTrips       metric.Int64Counter
	BeadsCompleted     metric.Int64Counter
	BeadsFailed        metric.Int64Counter
)

// Init wires an OTLP gRPC trace exporter and the custom metric set,
// returning a shutdown func to flush and close the trace provider.
func Init(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("telemetry: initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

func initMetrics() error {
	var err error

	DispatchLatency, err = Meter.Float64Histogram(
		"rigs.dispatch.latency",
		metric.WithDescription("Dispatch.Route decision latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	ReservationsTotal, err = Meter.Int64Counter(
		"rigs.reservations.total",
		metric.WithDescription("Total Refinery reservations issued"),
	)
	if err != nil {
		return err
	}

	ReservationsActive, err = Meter.Int64UpDownCounter(
		"rigs.reservations.active",
		metric.WithDescription("Reservations currently outstanding (reserved, not yet reconciled or released)"),
	)
	if err != nil {
		return err
	}

	CircuitTrips, err = Meter.Int64Counter(
		"rigs.circuit.trips",
		metric.WithDescription("Number of times a provider's circuit breaker opened"),
	)
	if err != nil {
		return err
	}

	BeadsCompleted, err = Meter.Int64Counter(
		"rigs.beads.completed",
		metric.WithDescription("Beads reaching the Completed terminal state"),
	)
	if err != nil {
		return err
	}

	BeadsFailed, err = Meter.Int64Counter(
		"rigs.beads.failed",
		metric.WithDescription("Beads reaching the Failed terminal state"),
	)
	return err
}
