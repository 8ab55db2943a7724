package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/labconnect/internal/domain"
)

// OrderRepository persists orders. Every update is a single atomic statement keyed by id;
// status history is only ever appended, never rewritten.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// ListByLocalStatus returns orders in any of statuses, oldest first
	ListByLocalStatus(ctx context.Context, statuses []domain.LocalStatus, limit int) ([]*domain.Order, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID, partnerReference string, at time.Time) error
	// MarkSubmissionFailed is a no-op for cancelled orders and orders that already hold a
	// partner reference
	MarkSubmissionFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	// RecordRetryAttempt increments retry_count and sets last_retry_at
	RecordRetryAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	// AppendPartnerStatus appends entry to the history, sets partner_status and, unless the
	// order is CANCELLED, local_status
	AppendPartnerStatus(ctx context.Context, id uuid.UUID, entry domain.StatusHistoryEntry, localStatus domain.LocalStatus) error
	UpdateLocalStatus(ctx context.Context, id uuid.UUID, status domain.LocalStatus) error
}

// SessionRepository persists partner credential sessions
type SessionRepository interface {
	// GetActive returns the active session for exactly operatorID and sourceAddress
	GetActive(ctx context.Context, operatorID, sourceAddress string) (*domain.CredentialSession, error)
	// Create stores session as the only active one for its operator and address
	Create(ctx context.Context, session *domain.CredentialSession) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	// DeactivateOperator revokes every active session of an operator, returning how many
	DeactivateOperator(ctx context.Context, operatorID string) (int, error)
}

// OperatorRepository persists internal operators and their API keys
type OperatorRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Operator, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error)
	Create(ctx context.Context, operator *domain.Operator) error
}

// RetryTaskRepository persists submission retries
type RetryTaskRepository interface {
	Create(ctx context.Context, task *domain.RetryTask) error
	// ListDue returns pending tasks with due_at <= now, earliest first
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTask, error)
	GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.RetryTask, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, dueAt time.Time, lastError string) error
	Exhaust(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

// Repositories groups all repositories
type Repositories struct {
	Order     OrderRepository
	Session   SessionRepository
	Operator  OperatorRepository
	RetryTask RetryTaskRepository
}
