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

type sessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new credential session repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *sessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *sessionRepository) GetActive(ctx context.Context, operatorID, sourceAddress string) (*domain.CredentialSession, error) {
	query := `
		SELECT id, operator_id, credential_value, acquired_at, expires_at, source_address,
			is_active, created_at, updated_at
		FROM credential_sessions
		WHERE operator_id = $1 AND source_address = $2 AND is_active = true
		ORDER BY acquired_at DESC
		LIMIT 1
	`

	var session domain.CredentialSession
	err := r.db.QueryRowContext(ctx, query, operatorID, sourceAddress).Scan(
		&session.ID,
		&session.OperatorID,
		&session.CredentialValue,
		&session.AcquiredAt,
		&session.ExpiresAt,
		&session.SourceAddress,
		&session.IsActive,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "credential session", ID: operatorID + "@" + sourceAddress}
	}
	if err != nil {
		r.logger.Error("Failed to get active session", zap.Error(err))
		return nil, err
	}

	return &session, nil
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.CredentialSession) error {
	now := time.Now()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.IsActive = true

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Supersede whatever login was active for this operator and address.
	_, err = tx.ExecContext(ctx, `
		UPDATE credential_sessions
		SET is_active = false, updated_at = $3
		WHERE operator_id = $1 AND source_address = $2 AND is_active = true
	`, session.OperatorID, session.SourceAddress, now)
	if err != nil {
		r.logger.Error("Failed to supersede sessions", zap.Error(err))
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credential_sessions (id, operator_id, credential_value, acquired_at, expires_at,
			source_address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8)
	`,
		session.ID,
		session.OperatorID,
		session.CredentialValue,
		session.AcquiredAt,
		session.ExpiresAt,
		session.SourceAddress,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session", zap.Error(err))
		return err
	}

	return tx.Commit()
}

func (r *sessionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE credential_sessions SET is_active = false, updated_at = $2 WHERE id = $1`,
		id, time.Now())
	if err != nil {
		r.logger.Error("Failed to deactivate session", zap.Error(err))
	}
	return err
}

func (r *sessionRepository) DeactivateOperator(ctx context.Context, operatorID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credential_sessions SET is_active = false, updated_at = $2 WHERE operator_id = $1 AND is_active = true`,
		operatorID, time.Now())
	if err != nil {
		r.logger.Error("Failed to revoke operator sessions", zap.Error(err))
		return 0, err
	}

	affected, err := result.RowsAffected()
	return int(affected), err
}
