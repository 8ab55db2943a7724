package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

type retryTaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRetryTaskRepository creates a new retry task repository
func NewRetryTaskRepository(db *sql.DB, logger *zap.Logger) *retryTaskRepository {
	return &retryTaskRepository{
		db:     db,
		logger: logger,
	}
}

const retryTaskColumns = `id, order_id, status, attempts, due_at, last_error, created_at, updated_at`

func scanRetryTask(row rowScanner) (*domain.RetryTask, error) {
	var (
		task      domain.RetryTask
		lastError sql.NullString
	)
	err := row.Scan(
		&task.ID,
		&task.OrderID,
		&task.Status,
		&task.Attempts,
		&task.DueAt,
		&lastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		task.LastError = &lastError.String
	}
	return &task, nil
}

func (r *retryTaskRepository) Create(ctx context.Context, task *domain.RetryTask) error {
	// One open task per order; a second failure reuses the pending row.
	query := `
		INSERT INTO retry_tasks (id, order_id, status, attempts, due_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) WHERE status = 'PENDING' DO NOTHING
	`

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

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.OrderID,
		task.Status,
		task.Attempts,
		task.DueAt,
		task.LastError,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create retry task", zap.Error(err))
		return err
	}

	return nil
}

func (r *retryTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTask, error) {
	query := `SELECT ` + retryTaskColumns + `
		FROM retry_tasks
		WHERE status = $1 AND due_at <= $2
		ORDER BY due_at ASC
		LIMIT $3
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, domain.RetryTaskStatusPending, now, limit)
	if err != nil {
		r.logger.Error("Failed to list due retry tasks", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.RetryTask
	for rows.Next() {
		task, err := scanRetryTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func (r *retryTaskRepository) GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.RetryTask, error) {
	query := `SELECT ` + retryTaskColumns + ` FROM retry_tasks WHERE order_id = $1 AND status = $2`

	task, err := scanRetryTask(r.db.QueryRowContext(ctx, query, orderID, domain.RetryTaskStatusPending))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "retry task", ID: orderID.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get open retry task", zap.Error(err))
		return nil, err
	}

	return task, nil
}

func (r *retryTaskRepository) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE retry_tasks SET status = $2, updated_at = $3 WHERE id = $1`,
		id, domain.RetryTaskStatusDone, time.Now())
	if err != nil {
		r.logger.Error("Failed to complete retry task", zap.Error(err))
	}
	return err
}

func (r *retryTaskRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, dueAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE retry_tasks SET attempts = $2, due_at = $3, last_error = $4, updated_at = $5 WHERE id = $1`,
		id, attempts, dueAt, lastError, time.Now())
	if err != nil {
		r.logger.Error("Failed to reschedule retry task", zap.Error(err))
	}
	return err
}

func (r *retryTaskRepository) Exhaust(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE retry_tasks SET status = $2, attempts = $3, last_error = $4, updated_at = $5 WHERE id = $1`,
		id, domain.RetryTaskStatusExhausted, attempts, lastError, time.Now())
	if err != nil {
		r.logger.Error("Failed to exhaust retry task", zap.Error(err))
	}
	return err
}
