package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/pkg/errors"
)

const (
	maxRetryBackoff = time.Hour
	retryBatchSize  = 50
)

// SubmissionRetrier re-attempts partner creation of a failed order
type SubmissionRetrier interface {
	RetrySubmission(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*SubmitResult, error)
}

// RetryScheduler drives persisted retry tasks. Tasks survive restarts because due times live
// in the repository rather than in timers.
type RetryScheduler struct {
	tasks        repository.RetryTaskRepository
	orders       SubmissionRetrier
	principal    domain.Principal
	pollInterval time.Duration
	baseDelay    time.Duration
	maxAttempts  int
	logger       *zap.Logger
	now          func() time.Time
}

// NewRetryScheduler creates a scheduler acting as the system principal from cfg
func NewRetryScheduler(tasks repository.RetryTaskRepository, orders SubmissionRetrier, cfg config.SyncConfig, logger *zap.Logger) *RetryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryScheduler{
		tasks:        tasks,
		orders:       orders,
		principal:    domain.Principal{OperatorID: cfg.SystemOperatorID, SourceAddress: cfg.SystemSourceAddress},
		pollInterval: cfg.RetryPollInterval,
		baseDelay:    cfg.RetryBaseDelay,
		maxAttempts:  maxAttempts,
		logger:       logger,
		now:          time.Now,
	}
}

// Run polls for due tasks until ctx ends
func (s *RetryScheduler) Run(ctx context.Context) error {
	interval := s.pollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Retry scheduler started", zap.Duration("poll_interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Retry pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes every task due now and returns how many were attempted
func (s *RetryScheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.tasks.ListDue(ctx, s.now(), retryBatchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, task := range due {
		if ctx.Err() != nil {
			return attempted, ctx.Err()
		}
		attempted++
		s.process(ctx, task)
	}
	return attempted, nil
}

func (s *RetryScheduler) process(ctx context.Context, task *domain.RetryTask) {
	log := s.logger.With(zap.String("order_id", task.OrderID.String()), zap.String("task_id", task.ID.String()))

	res, err := s.orders.RetrySubmission(ctx, s.principal, task.OrderID)
	if err != nil {
		// Infrastructure failure: leave the task due and try again next pass.
		log.Error("Retry attempt failed", zap.Error(err))
		return
	}

	if res.Success {
		if err := s.tasks.Complete(ctx, task.ID); err != nil {
			log.Error("Failed to complete retry task", zap.Error(err))
		}
		return
	}

	switch res.Failure.Kind {
	case errors.KindInvalidStatusTransition, errors.KindNotFound:
		log.Info("Order no longer needs a retry", zap.String("reason", res.Failure.Message))
		if err := s.tasks.Complete(ctx, task.ID); err != nil {
			log.Error("Failed to complete retry task", zap.Error(err))
		}
		return
	}

	attempts := task.Attempts + 1
	if attempts >= s.maxAttempts {
		log.Error("Submission retries exhausted",
			zap.Int("attempts", attempts),
			zap.String("last_error", res.Failure.Message),
		)
		if err := s.tasks.Exhaust(ctx, task.ID, attempts, res.Failure.Message); err != nil {
			log.Error("Failed to exhaust retry task", zap.Error(err))
		}
		return
	}

	dueAt := s.now().Add(Backoff(s.baseDelay, attempts))
	if retryAt := breakerRetryAt(res); retryAt.After(dueAt) {
		dueAt = retryAt
	}
	log.Info("Submission retry rescheduled", zap.Int("attempts", attempts), zap.Time("due_at", dueAt))
	if err := s.tasks.Reschedule(ctx, task.ID, attempts, dueAt, res.Failure.Message); err != nil {
		log.Error("Failed to reschedule retry task", zap.Error(err))
	}
}

// breakerRetryAt is the circuit's reopening time when the attempt was rejected by an open breaker
func breakerRetryAt(res *SubmitResult) time.Time {
	var unavailable *errors.ErrPartnerUnavailable
	if stderrors.As(res.cause, &unavailable) {
		return unavailable.RetryAt
	}
	return time.Time{}
}

// Backoff returns base·2^attempts, capped at one hour
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}
