package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels for engine metrics
const (
	OutcomeSuccess = "success"
	OutcomeNoop    = "noop"
	OutcomeAborted = "aborted"
	OutcomeError   = "error"
)

// EngineMetrics records remote calls made by the synchronization engine and
// records touched by the cascade engine.
type EngineMetrics struct {
	remoteCalls    metric.Int64Counter
	cascadeRecords metric.Int64Counter
}

// NewEngineMetrics creates the instruments on meter. A nil meter uses the
// global meter provider.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(TracerName)
	}
	remoteCalls, err := meter.Int64Counter("billsync.remote.operations",
		metric.WithDescription("Remote lifecycle operations by entity, operation and outcome"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}
	cascadeRecords, err := meter.Int64Counter("billsync.cascade.records",
		metric.WithDescription("Records whose deleted_at was written by the cascade engine"),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}
	return &EngineMetrics{remoteCalls: remoteCalls, cascadeRecords: cascadeRecords}, nil
}

// RemoteOperation counts one synchronization engine operation
func (m *EngineMetrics) RemoteOperation(ctx context.Context, entity, operation, outcome string) {
	if m == nil {
		return
	}
	m.remoteCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// CascadeRecords counts records stamped by one cascade operation
func (m *EngineMetrics) CascadeRecords(ctx context.Context, operation string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cascadeRecords.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
