// Package breaker implements a circuit breaker that sheds load from a failing partner.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 2
	DefaultTimeout          = 120 * time.Second
)

// Config holds breaker thresholds. Zero values take the defaults.
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// OpenError is returned when a call is rejected without being invoked
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// IsOpen reports whether err is a breaker rejection
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// Snapshot is a point-in-time view of the breaker
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	SuccessCount  int       `json:"success_count"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

// Breaker gates calls to one partner endpoint class.
// State only changes through Execute outcomes and the open-timeout re-evaluation.
type Breaker struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	nextAttemptAt time.Time
	probing       bool
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a closed breaker
func New(cfg Config, logger *zap.Logger, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "partner"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		state:  Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn if the breaker admits it and records the outcome.
// It never retries; a rejected call returns *OpenError and fn is not invoked.
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteFiltered(fn, nil)
}

// ExecuteFiltered is Execute with a classifier. Errors for which isFailure returns false are
// returned to the caller without being counted either way. A nil isFailure counts every error.
func (b *Breaker) ExecuteFiltered(fn func() error, isFailure func(error) bool) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	switch {
	case err == nil:
		b.onSuccess()
	case isFailure == nil || isFailure(err):
		b.onFailure()
	default:
		b.release()
	}
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case Open:
		if now.Before(b.nextAttemptAt) {
			return &OpenError{Name: b.cfg.Name, RetryAt: b.nextAttemptAt}
		}
		b.transition(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		// One probe at a time.
		if b.probing {
			return &OpenError{Name: b.cfg.Name, RetryAt: now}
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.failureCount = 0
	b.successCount++
	if b.state == HalfOpen && b.successCount >= b.cfg.SuccessThreshold {
		b.transition(Closed)
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.successCount = 0
	b.failureCount++
	if b.state == HalfOpen || b.failureCount >= b.cfg.FailureThreshold {
		b.nextAttemptAt = b.now().Add(b.cfg.Timeout)
		b.transition(Open)
	}
}

// transition must be called with mu held
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failureCount = 0
	b.successCount = 0

	fields := []zap.Field{
		zap.String("breaker", b.cfg.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	if to == Open {
		b.logger.Warn("Circuit opened", append(fields, zap.Time("next_attempt_at", b.nextAttemptAt))...)
		return
	}
	b.logger.Info("Circuit state changed", fields...)
}

// State returns the current state without re-evaluating the open timeout
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:         b.cfg.Name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if b.state == Open {
		s.NextAttemptAt = b.nextAttemptAt
	}
	return s
}
