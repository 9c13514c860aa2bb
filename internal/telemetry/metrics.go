package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics implements pubsub.Metrics against an OpenTelemetry meter,
// satisfying the metrics builtin middleware without that package
// depending on OTEL directly.
type EngineMetrics struct {
	delivered       metric.Int64Counter
	dlq             metric.Int64Counter
	handlerDuration metric.Float64Histogram
}

// NewEngineMetrics creates the counters/histogram this engine reports.
func NewEngineMetrics(meterName string) (*EngineMetrics, error) {
	meter := Meter(meterName)

	delivered, err := meter.Int64Counter("pubsub.messages.delivered", metric.WithDescription("messages successfully handled"))
	if err != nil {
		return nil, err
	}
	dlq, err := meter.Int64Counter("pubsub.messages.dlq", metric.WithDescription("messages routed to the dead-letter subject"))
	if err != nil {
		return nil, err
	}
	handlerDuration, err := meter.Float64Histogram("pubsub.handler.duration", metric.WithDescription("handler execution time in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{delivered: delivered, dlq: dlq, handlerDuration: handlerDuration}, nil
}

func (m *EngineMetrics) IncDelivered(subject string) {
	m.delivered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("subject", subject)))
}

func (m *EngineMetrics) IncDLQ(subject, reason string) {
	m.dlq.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("reason", reason),
	))
}

func (m *EngineMetrics) ObserveHandlerDuration(subject string, seconds float64) {
	m.handlerDuration.Record(context.Background(), seconds, metric.WithAttributes(attribute.String("subject", subject)))
}
