package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeUnavailable = "unavailable"
	outcomeAbandoned   = "abandoned"
)

// Metrics records partner call instrumentation. A nil *Metrics records nothing.
type Metrics struct {
	calls     metric.Int64Counter
	queueWait metric.Float64Histogram
}

// NewMetrics registers the partner instruments on meter. Gauges observe d on every collection.
func NewMetrics(meter metric.Meter, d *Dispatcher) (*Metrics, error) {
	calls, err := meter.Int64Counter("partner.calls",
		metric.WithDescription("Partner calls by outcome"))
	if err != nil {
		return nil, err
	}

	queueWait, err := meter.Float64Histogram("partner.queue.wait",
		metric.WithDescription("Time a partner call spent queued before dispatch"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	depth, err := meter.Int64ObservableGauge("partner.queue.depth",
		metric.WithDescription("Partner calls waiting in the queue"))
	if err != nil {
		return nil, err
	}

	state, err := meter.Int64ObservableGauge("partner.breaker.state",
		metric.WithDescription("Breaker state: 0 closed, 1 open, 2 half-open"))
	if err != nil {
		return nil, err
	}

	if d != nil {
		_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(depth, int64(d.queue.Stats().Depth))
			o.ObserveInt64(state, int64(d.breaker.State()))
			return nil
		}, depth, state)
		if err != nil {
			return nil, err
		}
	}

	return &Metrics{calls: calls, queueWait: queueWait}, nil
}

func (m *Metrics) recordCall(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordWait(ctx context.Context, wait time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Record(ctx, float64(wait)/float64(time.Millisecond))
}
