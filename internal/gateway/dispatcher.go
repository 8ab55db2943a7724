// Package gateway is the single path for partner calls: circuit breaker, serialized queue and
// credential resolution.
package gateway

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/breaker"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// Stats is a point-in-time view of the breaker and queue
type Stats struct {
	Breaker breaker.Snapshot `json:"breaker"`
	Queue   QueueStats       `json:"queue"`
}

// QueueStats mirrors queue.Stats with JSON names
type QueueStats struct {
	Processed   int64   `json:"processed"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	Depth       int     `json:"depth"`
	AvgWaitMs   float64 `json:"avg_wait_ms"`
	MinDelaySec float64 `json:"min_delay_sec"`
}

// Dispatcher admits partner calls through the breaker, then runs them on the queue
type Dispatcher struct {
	breaker  *breaker.Breaker
	queue    *queue.Queue
	minDelay time.Duration
	metrics  *Metrics
	logger   *zap.Logger
}

// NewDispatcher composes a breaker and a started queue
func NewDispatcher(b *breaker.Breaker, q *queue.Queue, minDelay time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		breaker:  b,
		queue:    q,
		minDelay: minDelay,
		logger:   logger,
	}
}

// SetMetrics attaches instrumentation
func (d *Dispatcher) SetMetrics(m *Metrics) {
	d.metrics = m
}

// Do runs op once the breaker admits it and the queue reaches it. An open circuit yields
// *errors.ErrPartnerUnavailable without queueing. A caller that gives up while queued does not
// count against the breaker.
func (d *Dispatcher) Do(ctx context.Context, priority queue.Priority, op queue.Operation) error {
	enqueued := time.Now()
	var started atomic.Bool

	err := d.breaker.ExecuteFiltered(func() error {
		return d.queue.Enqueue(ctx, priority, func(opCtx context.Context) error {
			started.Store(true)
			d.metrics.recordWait(ctx, time.Since(enqueued))
			return op(opCtx)
		})
	}, func(err error) bool {
		return !(ctx.Err() != nil && stderrors.Is(err, ctx.Err())) && !stderrors.Is(err, queue.ErrClosed)
	})

	var openErr *breaker.OpenError
	switch {
	case err == nil:
		d.metrics.recordCall(ctx, outcomeSuccess)
	case stderrors.As(err, &openErr):
		d.metrics.recordCall(ctx, outcomeUnavailable)
		d.logger.Debug("Partner call rejected by open circuit", zap.Time("retry_at", openErr.RetryAt))
		return &errors.ErrPartnerUnavailable{RetryAt: openErr.RetryAt}
	case !started.Load():
		d.metrics.recordCall(ctx, outcomeAbandoned)
	default:
		d.metrics.recordCall(ctx, outcomeFailure)
	}
	return err
}

// Stats returns breaker and queue statistics
func (d *Dispatcher) Stats() Stats {
	qs := d.queue.Stats()
	return Stats{
		Breaker: d.breaker.Snapshot(),
		Queue: QueueStats{
			Processed:   qs.Processed,
			Failed:      qs.Failed,
			Skipped:     qs.Skipped,
			Depth:       qs.Depth,
			AvgWaitMs:   float64(qs.AvgWait) / float64(time.Millisecond),
			MinDelaySec: d.minDelay.Seconds(),
		},
	}
}
