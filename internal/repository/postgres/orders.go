package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

type orderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *orderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `
	id, operator_id, local_status, partner_reference, partner_status, partner_status_history,
	customer, items, total, last_error, retry_count, last_retry_at, last_synced_at,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order            domain.Order
		partnerReference sql.NullString
		partnerStatus    sql.NullString
		lastError        sql.NullString
		lastRetryAt      sql.NullTime
		lastSyncedAt     sql.NullTime
		historyJSON      []byte
		customerJSON     []byte
		itemsJSON        []byte
	)

	err := row.Scan(
		&order.ID,
		&order.OperatorID,
		&order.LocalStatus,
		&partnerReference,
		&partnerStatus,
		&historyJSON,
		&customerJSON,
		&itemsJSON,
		&order.Total,
		&lastError,
		&order.RetryCount,
		&lastRetryAt,
		&lastSyncedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if partnerReference.Valid {
		order.PartnerReference = &partnerReference.String
	}
	if partnerStatus.Valid {
		order.PartnerStatus = &partnerStatus.String
	}
	if lastError.Valid {
		order.LastError = &lastError.String
	}
	if lastRetryAt.Valid {
		order.LastRetryAt = &lastRetryAt.Time
	}
	if lastSyncedAt.Valid {
		order.LastSyncedAt = &lastSyncedAt.Time
	}

	if err := json.Unmarshal(historyJSON, &order.PartnerStatusHistory); err != nil {
		return nil, fmt.Errorf("failed to decode status history: %w", err)
	}
	if err := json.Unmarshal(customerJSON, &order.Customer); err != nil {
		return nil, fmt.Errorf("failed to decode customer: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	return &order, nil
}

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, operator_id, local_status, partner_status_history, customer, items,
			total, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, '[]'::jsonb, $4, $5, $6, 0, $7, $8)
	`

	now := time.Now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.LocalStatus == "" {
		order.LocalStatus = domain.LocalStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	customerJSON, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("failed to encode customer: %w", err)
	}
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.OperatorID,
		order.LocalStatus,
		customerJSON,
		itemsJSON,
		order.Total,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create order", zap.Error(err))
		return err
	}

	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get order by ID", zap.Error(err))
		return nil, err
	}

	return order, nil
}

func (r *orderRepository) ListByLocalStatus(ctx context.Context, statuses []domain.LocalStatus, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE local_status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`

	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(values), limit)
	if err != nil {
		r.logger.Error("Failed to list orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func (r *orderRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, partnerReference string, at time.Time) error {
	query := `
		UPDATE orders
		SET partner_reference = $2, local_status = $3, last_error = NULL, updated_at = $4
		WHERE id = $1 AND local_status <> $5
	`
	return r.exec(ctx, "mark order submitted", id, query, id, partnerReference, domain.LocalStatusCreated, at, domain.LocalStatusCancelled)
}

func (r *orderRepository) MarkSubmissionFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	query := `
		UPDATE orders
		SET local_status = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND local_status <> $5 AND partner_reference IS NULL
	`
	return r.exec(ctx, "mark submission failed", id, query, id, domain.LocalStatusFailed, reason, at, domain.LocalStatusCancelled)
}

func (r *orderRepository) RecordRetryAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE orders
		SET retry_count = retry_count + 1, last_retry_at = $2, updated_at = $2
		WHERE id = $1
	`
	return r.exec(ctx, "record retry attempt", id, query, id, at)
}

func (r *orderRepository) TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE orders SET last_synced_at = $2 WHERE id = $1`
	return r.exec(ctx, "touch synced", id, query, id, at)
}

func (r *orderRepository) AppendPartnerStatus(ctx context.Context, id uuid.UUID, entry domain.StatusHistoryEntry, localStatus domain.LocalStatus) error {
	// Positional append on the JSONB array; concurrent appends cannot drop each other.
	query := `
		UPDATE orders
		SET partner_status_history = partner_status_history || jsonb_build_array($2::jsonb),
			partner_status = $3,
			local_status = CASE WHEN local_status = $5 THEN local_status ELSE $4 END,
			last_synced_at = $6,
			updated_at = $6
		WHERE id = $1
	`

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode status entry: %w", err)
	}

	return r.exec(ctx, "append partner status", id, query,
		id, string(entryJSON), entry.Status, localStatus, domain.LocalStatusCancelled, entry.Timestamp)
}

func (r *orderRepository) UpdateLocalStatus(ctx context.Context, id uuid.UUID, status domain.LocalStatus) error {
	query := `UPDATE orders SET local_status = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, "update local status", id, query, id, status, time.Now())
}

func (r *orderRepository) exec(ctx context.Context, action string, id uuid.UUID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+action, zap.String("order_id", id.String()), zap.Error(err))
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		// Row exists but the guard excluded it (cancelled or already submitted order).
		r.logger.Info("Order update skipped by status guard",
			zap.String("action", action),
			zap.String("order_id", id.String()),
		)
	}

	return nil
}
