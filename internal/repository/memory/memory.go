// Package memory implements the repositories in process memory. Every read returns a copy.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// NewRepositories creates empty in-memory repositories
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Order:     NewOrderRepository(),
		Session:   NewSessionRepository(),
		Operator:  NewOperatorRepository(),
		RetryTask: NewRetryTaskRepository(),
	}
}

// OrderRepository is an in-memory repository.OrderRepository
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[uuid.UUID]*domain.Order)}
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.PartnerStatusHistory = append([]domain.StatusHistoryEntry(nil), o.PartnerStatusHistory...)
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.PartnerReference != nil {
		v := *o.PartnerReference
		c.PartnerReference = &v
	}
	if o.PartnerStatus != nil {
		v := *o.PartnerStatus
		c.PartnerStatus = &v
	}
	if o.LastError != nil {
		v := *o.LastError
		c.LastError = &v
	}
	if o.LastRetryAt != nil {
		v := *o.LastRetryAt
		c.LastRetryAt = &v
	}
	if o.LastSyncedAt != nil {
		v := *o.LastSyncedAt
		c.LastSyncedAt = &v
	}
	return &c
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.LocalStatus == "" {
		order.LocalStatus = domain.LocalStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	order.UpdatedAt = order.CreatedAt
	if order.PartnerStatusHistory == nil {
		order.PartnerStatusHistory = []domain.StatusHistoryEntry{}
	}

	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	return copyOrder(order), nil
}

func (r *OrderRepository) ListByLocalStatus(ctx context.Context, statuses []domain.LocalStatus, limit int) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[domain.LocalStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []*domain.Order
	for _, order := range r.orders {
		if wanted[order.LocalStatus] {
			out = append(out, copyOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// update applies fn to the stored order under the write lock
func (r *OrderRepository) update(id uuid.UUID, fn func(o *domain.Order)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	fn(order)
	return nil
}

func (r *OrderRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, partnerReference string, at time.Time) error {
	return r.update(id, func(o *domain.Order) {
		if o.LocalStatus == domain.LocalStatusCancelled {
			return
		}
		o.PartnerReference = &partnerReference
		o.LocalStatus = domain.LocalStatusCreated
		o.LastError = nil
		o.UpdatedAt = at
	})
}

func (r *OrderRepository) MarkSubmissionFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.update(id, func(o *domain.Order) {
		if o.LocalStatus == domain.LocalStatusCancelled || o.PartnerReference != nil {
			return
		}
		o.LocalStatus = domain.LocalStatusFailed
		o.LastError = &reason
		o.UpdatedAt = at
	})
}

func (r *OrderRepository) RecordRetryAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(o *domain.Order) {
		o.RetryCount++
		o.LastRetryAt = &at
		o.UpdatedAt = at
	})
}

func (r *OrderRepository) TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(o *domain.Order) {
		o.LastSyncedAt = &at
	})
}

func (r *OrderRepository) AppendPartnerStatus(ctx context.Context, id uuid.UUID, entry domain.StatusHistoryEntry, localStatus domain.LocalStatus) error {
	return r.update(id, func(o *domain.Order) {
		o.PartnerStatusHistory = append(o.PartnerStatusHistory, entry)
		status := entry.Status
		o.PartnerStatus = &status
		if o.LocalStatus != domain.LocalStatusCancelled {
			o.LocalStatus = localStatus
		}
		at := entry.Timestamp
		o.LastSyncedAt = &at
		o.UpdatedAt = at
	})
}

func (r *OrderRepository) UpdateLocalStatus(ctx context.Context, id uuid.UUID, status domain.LocalStatus) error {
	return r.update(id, func(o *domain.Order) {
		o.LocalStatus = status
		o.UpdatedAt = time.Now()
	})
}

// SessionRepository is an in-memory repository.SessionRepository
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.CredentialSession
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[uuid.UUID]*domain.CredentialSession)}
}

func (r *SessionRepository) GetActive(ctx context.Context, operatorID, sourceAddress string) (*domain.CredentialSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.CredentialSession
	for _, s := range r.sessions {
		if !s.IsActive || s.OperatorID != operatorID || s.SourceAddress != sourceAddress {
			continue
		}
		if found == nil || s.AcquiredAt.After(found.AcquiredAt) {
			found = s
		}
	}
	if found == nil {
		return nil, &errors.ErrNotFound{Resource: "credential session", ID: operatorID + "@" + sourceAddress}
	}
	c := *found
	return &c, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.CredentialSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.IsActive = true

	for _, s := range r.sessions {
		if s.IsActive && s.OperatorID == session.OperatorID && s.SourceAddress == session.SourceAddress {
			s.IsActive = false
			s.UpdatedAt = now
		}
	}

	c := *session
	r.sessions[session.ID] = &c
	return nil
}

func (r *SessionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.IsActive = false
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (r *SessionRepository) DeactivateOperator(ctx context.Context, operatorID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if s.IsActive && s.OperatorID == operatorID {
			s.IsActive = false
			s.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// All returns every stored session, active or not
func (r *SessionRepository) All() []domain.CredentialSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.CredentialSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OperatorRepository is an in-memory repository.OperatorRepository
type OperatorRepository struct {
	mu        sync.RWMutex
	operators map[uuid.UUID]*domain.Operator
}

func NewOperatorRepository() *OperatorRepository {
	return &OperatorRepository{operators: make(map[uuid.UUID]*domain.Operator)}
}

func (r *OperatorRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, op := range r.operators {
		if !op.IsActive {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(op.APIKeyHash), []byte(apiKey)); err == nil {
			c := *op
			return &c, nil
		}
	}
	return nil, &errors.ErrUnauthorized{Message: "invalid API key"}
}

func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.operators[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "operator", ID: id.String()}
	}
	c := *op
	return &c, nil
}

func (r *OperatorRepository) Create(ctx context.Context, operator *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if operator.ID == uuid.Nil {
		operator.ID = uuid.New()
	}
	if operator.CreatedAt.IsZero() {
		operator.CreatedAt = now
	}
	if operator.UpdatedAt.IsZero() {
		operator.UpdatedAt = now
	}
	c := *operator
	r.operators[operator.ID] = &c
	return nil
}

// RetryTaskRepository is an in-memory repository.RetryTaskRepository
type RetryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.RetryTask
}

func NewRetryTaskRepository() *RetryTaskRepository {
	return &RetryTaskRepository{tasks: make(map[uuid.UUID]*domain.RetryTask)}
}

func (r *RetryTaskRepository) Create(ctx context.Context, task *domain.RetryTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tasks {
		if t.OrderID == task.OrderID && t.Status == domain.RetryTaskStatusPending {
			return nil
		}
	}

	now := time.Now()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = domain.RetryTaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	c := *task
	r.tasks[task.ID] = &c
	return nil
}

func (r *RetryTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.RetryTask
	for _, t := range r.tasks {
		if t.Status == domain.RetryTaskStatusPending && !t.DueAt.After(now) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RetryTaskRepository) GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.RetryTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tasks {
		if t.OrderID == orderID && t.Status == domain.RetryTaskStatusPending {
			c := *t
			return &c, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "retry task", ID: orderID.String()}
}

func (r *RetryTaskRepository) set(id uuid.UUID, fn func(t *domain.RetryTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "retry task", ID: id.String()}
	}
	fn(t)
	t.UpdatedAt = time.Now()
	return nil
}

func (r *RetryTaskRepository) Complete(ctx context.Context, id uuid.UUID) error {
	return r.set(id, func(t *domain.RetryTask) {
		t.Status = domain.RetryTaskStatusDone
	})
}

func (r *RetryTaskRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, dueAt time.Time, lastError string) error {
	return r.set(id, func(t *domain.RetryTask) {
		t.Attempts = attempts
		t.DueAt = dueAt
		t.LastError = &lastError
	})
}

func (r *RetryTaskRepository) Exhaust(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	return r.set(id, func(t *domain.RetryTask) {
		t.Status = domain.RetryTaskStatusExhausted
		t.Attempts = attempts
		t.LastError = &lastError
	})
}

// All returns every stored task
func (r *RetryTaskRepository) All() []domain.RetryTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RetryTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
