// Package credential manages partner login sessions per operator and source address.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// State is the lifecycle position of a principal's credential
type State string

const (
	StateNone      State = "NONE"
	StateAcquiring State = "ACQUIRING"
	StateActive    State = "ACTIVE"
	StateExpired   State = "EXPIRED"
)

// SessionState derives the state of a stored session at now
func SessionState(session *domain.CredentialSession, now time.Time) State {
	switch {
	case session == nil:
		return StateNone
	case !session.IsActive || session.IsExpired(now):
		return StateExpired
	default:
		return StateActive
	}
}

// Authenticator performs the partner login
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*partner.LoginResponse, error)
}

// Dispatcher admits a partner call through the breaker and queue
type Dispatcher interface {
	Do(ctx context.Context, priority queue.Priority, op queue.Operation) error
}

// AcquireResult is the caller-facing outcome of an explicit acquisition.
// It never carries the credential value.
type AcquireResult struct {
	Success   bool            `json:"success"`
	Reused    bool            `json:"reused"`
	State     State           `json:"state"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Failure   *errors.Failure `json:"error,omitempty"`
}

// Manager resolves a usable partner credential for a principal, logging in when needed
type Manager struct {
	sessions   repository.SessionRepository
	auth       Authenticator
	dispatcher Dispatcher
	policy     ExpiryPolicy
	username   string
	password   string
	logger     *zap.Logger
	now        func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]int
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a credential manager
func NewManager(
	sessions repository.SessionRepository,
	auth Authenticator,
	dispatcher Dispatcher,
	policy ExpiryPolicy,
	cfg config.PartnerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions:   sessions,
		auth:       auth,
		dispatcher: dispatcher,
		policy:     policy,
		username:   cfg.Username,
		password:   cfg.Password,
		logger:     logger,
		now:        time.Now,
		inflight:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Credential returns an unexpired credential for p, reusing the stored session for the exact
// operator and source address or logging in again
func (m *Manager) Credential(ctx context.Context, p domain.Principal) (string, error) {
	session, _, err := m.resolve(ctx, p)
	if err != nil {
		return "", err
	}
	return session.CredentialValue, nil
}

// Acquire resolves a credential for p and reports the outcome without exposing the value
func (m *Manager) Acquire(ctx context.Context, p domain.Principal) (*AcquireResult, error) {
	session, reused, err := m.resolve(ctx, p)
	if err != nil {
		if !errors.IsExpected(err) {
			return nil, err
		}
		return &AcquireResult{
			Success: false,
			State:   StateNone,
			Failure: errors.NewFailure(err),
		}, nil
	}

	expiresAt := session.ExpiresAt
	return &AcquireResult{
		Success:   true,
		Reused:    reused,
		State:     StateActive,
		ExpiresAt: &expiresAt,
	}, nil
}

// State reports the credential state of p without acquiring
func (m *Manager) State(ctx context.Context, p domain.Principal) (State, error) {
	m.mu.Lock()
	acquiring := m.inflight[p.Key()] > 0
	m.mu.Unlock()
	if acquiring {
		return StateAcquiring, nil
	}

	session, err := m.sessions.GetActive(ctx, p.OperatorID, p.SourceAddress)
	if errors.KindOf(err) == errors.KindNotFound {
		return StateNone, nil
	}
	if err != nil {
		return "", err
	}
	return SessionState(session, m.now()), nil
}

// Invalidate deactivates the active session of p if it still holds credential.
// A session replaced by a concurrent login is left alone.
func (m *Manager) Invalidate(ctx context.Context, p domain.Principal, credential string) error {
	session, err := m.sessions.GetActive(ctx, p.OperatorID, p.SourceAddress)
	if errors.KindOf(err) == errors.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if session.CredentialValue != credential {
		return nil
	}

	m.logger.Info("Invalidating rejected partner credential",
		zap.String("operator_id", p.OperatorID),
		zap.String("source_address", p.SourceAddress),
	)
	return m.sessions.Deactivate(ctx, session.ID)
}

// Revoke deactivates every session of an operator and returns how many were active
func (m *Manager) Revoke(ctx context.Context, operatorID string) (int, error) {
	n, err := m.sessions.DeactivateOperator(ctx, operatorID)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Revoked partner credentials", zap.String("operator_id", operatorID), zap.Int("sessions", n))
	return n, nil
}

func (m *Manager) resolve(ctx context.Context, p domain.Principal) (*domain.CredentialSession, bool, error) {
	session, err := m.sessions.GetActive(ctx, p.OperatorID, p.SourceAddress)
	switch {
	case err == nil:
		if !session.IsExpired(m.now()) {
			return session, true, nil
		}
		if err := m.sessions.Deactivate(ctx, session.ID); err != nil {
			return nil, false, fmt.Errorf("failed to deactivate expired session: %w", err)
		}
		m.logger.Info("Partner credential expired",
			zap.String("operator_id", p.OperatorID),
			zap.String("source_address", p.SourceAddress),
			zap.Time("expired_at", session.ExpiresAt),
		)
	case errors.KindOf(err) != errors.KindNotFound:
		return nil, false, err
	}

	session, err = m.acquire(ctx, p)
	return session, false, err
}

// acquire logs in once per principal key; concurrent callers share the result
func (m *Manager) acquire(ctx context.Context, p domain.Principal) (*domain.CredentialSession, error) {
	key := p.Key()
	ch := m.group.DoChan(key, func() (interface{}, error) {
		m.track(key, 1)
		defer m.track(key, -1)
		return m.login(context.WithoutCancel(ctx), p)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		session := *res.Val.(*domain.CredentialSession)
		return &session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) login(ctx context.Context, p domain.Principal) (*domain.CredentialSession, error) {
	var resp *partner.LoginResponse
	err := m.dispatcher.Do(ctx, queue.High, func(ctx context.Context) error {
		var err error
		resp, err = m.auth.Login(ctx, m.username, m.password)
		return err
	})
	if err == nil && resp.APIKey == "" {
		err = fmt.Errorf("login response carried no API key")
	}
	if err != nil {
		m.logger.Warn("Partner login failed",
			zap.String("operator_id", p.OperatorID),
			zap.String("source_address", p.SourceAddress),
			zap.Error(err),
		)
		return nil, &errors.ErrCredentialAcquisition{OperatorID: p.OperatorID, Err: err}
	}

	now := m.now()
	session := &domain.CredentialSession{
		OperatorID:      p.OperatorID,
		CredentialValue: resp.APIKey,
		AcquiredAt:      now,
		ExpiresAt:       m.policy.ExpiresAt(now),
		SourceAddress:   p.SourceAddress,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		m.logger.Error("Failed to record credential session", zap.String("operator_id", p.OperatorID), zap.Error(err))
		return nil, err
	}

	m.logger.Info("Partner credential acquired",
		zap.String("operator_id", p.OperatorID),
		zap.String("source_address", p.SourceAddress),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return session, nil
}

func (m *Manager) track(key string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[key] += delta
	if m.inflight[key] <= 0 {
		delete(m.inflight, key)
	}
}
