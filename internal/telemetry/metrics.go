// Package telemetry bootstraps OpenTelemetry export and defines the pipeline
// instruments shared by the queue and transmission layers.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting the given endpoint. Metrics are flushed
// periodically via a PeriodicReader. The caller must defer mp.Shutdown(ctx).
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// PipelineMetrics holds the event-pipeline counters. All methods are safe on
// a nil receiver so components can run without telemetry wired up.
type PipelineMetrics struct {
	eventsQueued      metric.Int64Counter
	eventsDropped     metric.Int64Counter
	eventsReplaced    metric.Int64Counter
	eventsTransmitted metric.Int64Counter
	invalidPositions  metric.Int64Counter
	reconnects        metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on the global meter
// provider.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("trakbridge/pipeline")
	m := &PipelineMetrics{}
	var err error
	if m.eventsQueued, err = meter.Int64Counter("trakbridge.events.queued",
		metric.WithDescription("Events accepted into a destination queue")); err != nil {
		return nil, err
	}
	if m.eventsDropped, err = meter.Int64Counter("trakbridge.events.dropped",
		metric.WithDescription("Events dropped (stale or overflow)")); err != nil {
		return nil, err
	}
	if m.eventsReplaced, err = meter.Int64Counter("trakbridge.events.replaced",
		metric.WithDescription("Queued events replaced by a newer one for the same device")); err != nil {
		return nil, err
	}
	if m.eventsTransmitted, err = meter.Int64Counter("trakbridge.events.transmitted",
		metric.WithDescription("Events written to a TAK server")); err != nil {
		return nil, err
	}
	if m.invalidPositions, err = meter.Int64Counter("trakbridge.positions.invalid",
		metric.WithDescription("Provider positions dropped by validation")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("trakbridge.transmit.reconnects",
		metric.WithDescription("TAK server reconnect attempts")); err != nil {
		return nil, err
	}
	return m, nil
}

func serverAttr(serverID int64) metric.AddOption {
	return metric.WithAttributes(attribute.Int64("server_id", serverID))
}

// AddQueued records n accepted events for a destination.
func (m *PipelineMetrics) AddQueued(ctx context.Context, serverID int64, n int64) {
	if m == nil {
		return
	}
	m.eventsQueued.Add(ctx, n, serverAttr(serverID))
}

// AddDropped records n dropped events for a destination.
func (m *PipelineMetrics) AddDropped(ctx context.Context, serverID int64, n int64) {
	if m == nil {
		return
	}
	m.eventsDropped.Add(ctx, n, serverAttr(serverID))
}

// AddReplaced records n in-queue replacements for a destination.
func (m *PipelineMetrics) AddReplaced(ctx context.Context, serverID int64, n int64) {
	if m == nil {
		return
	}
	m.eventsReplaced.Add(ctx, n, serverAttr(serverID))
}

// AddTransmitted records n events written to a destination.
func (m *PipelineMetrics) AddTransmitted(ctx context.Context, serverID int64, n int64) {
	if m == nil {
		return
	}
	m.eventsTransmitted.Add(ctx, n, serverAttr(serverID))
}

// AddInvalidPositions records n positions dropped by validation for a stream.
func (m *PipelineMetrics) AddInvalidPositions(ctx context.Context, streamID int64, n int64) {
	if m == nil {
		return
	}
	m.invalidPositions.Add(ctx, n, metric.WithAttributes(attribute.Int64("stream_id", streamID)))
}

// AddReconnect records one reconnect attempt to a destination.
func (m *PipelineMetrics) AddReconnect(ctx context.Context, serverID int64) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, serverAttr(serverID))
}
