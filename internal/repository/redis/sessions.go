// Package redis caches active credential sessions in front of the durable session repository.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/repository"
)

const keyPrefix = "labconnect:session"

func sessionKey(operatorID, sourceAddress string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, operatorID, sourceAddress)
}

func idKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:id:%s", keyPrefix, id)
}

func operatorKey(operatorID string) string {
	return fmt.Sprintf("%s:operator:%s", keyPrefix, operatorID)
}

type cachedSession struct {
	ID              uuid.UUID `json:"id"`
	OperatorID      string    `json:"operator_id"`
	CredentialValue string    `json:"credential_value"`
	AcquiredAt      time.Time `json:"acquired_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	SourceAddress   string    `json:"source_address"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SessionCache is a repository.SessionRepository that serves active sessions from Redis and
// writes through to next. Redis failures are logged and fall back to next.
type SessionCache struct {
	client *redis.Client
	next   repository.SessionRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionCache wraps next with a Redis cache
func NewSessionCache(client *redis.Client, next repository.SessionRepository, logger *zap.Logger) *SessionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCache{
		client: client,
		next:   next,
		logger: logger,
		now:    time.Now,
	}
}

func (c *SessionCache) GetActive(ctx context.Context, operatorID, sourceAddress string) (*domain.CredentialSession, error) {
	data, err := c.client.Get(ctx, sessionKey(operatorID, sourceAddress)).Bytes()
	switch {
	case err == nil:
		var cached cachedSession
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.session(), nil
		}
		c.logger.Warn("Discarding undecodable cached session", zap.String("operator_id", operatorID))
	case err != redis.Nil:
		c.logger.Warn("Session cache read failed", zap.Error(err))
	}

	session, err := c.next.GetActive(ctx, operatorID, sourceAddress)
	if err != nil {
		return nil, err
	}
	c.store(ctx, session)
	return session, nil
}

func (c *SessionCache) Create(ctx context.Context, session *domain.CredentialSession) error {
	if err := c.next.Create(ctx, session); err != nil {
		return err
	}
	c.store(ctx, session)
	return nil
}

func (c *SessionCache) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := c.next.Deactivate(ctx, id); err != nil {
		return err
	}

	key, err := c.client.Get(ctx, idKey(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("Session cache read failed", zap.Error(err))
		return nil
	}
	if err := c.client.Del(ctx, key, idKey(id)).Err(); err != nil {
		c.logger.Warn("Failed to evict cached session", zap.String("session_id", id.String()), zap.Error(err))
	}
	return nil
}

func (c *SessionCache) DeactivateOperator(ctx context.Context, operatorID string) (int, error) {
	n, err := c.next.DeactivateOperator(ctx, operatorID)
	if err != nil {
		return n, err
	}

	keys, err := c.client.SMembers(ctx, operatorKey(operatorID)).Result()
	if err != nil {
		c.logger.Warn("Session cache read failed", zap.Error(err))
		return n, nil
	}
	keys = append(keys, operatorKey(operatorID))
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Failed to evict operator sessions", zap.String("operator_id", operatorID), zap.Error(err))
	}
	return n, nil
}

// store caches an active session until it expires
func (c *SessionCache) store(ctx context.Context, session *domain.CredentialSession) {
	ttl := session.ExpiresAt.Sub(c.now())
	if !session.IsActive || ttl <= 0 {
		return
	}

	data, err := json.Marshal(cachedSession{
		ID:              session.ID,
		OperatorID:      session.OperatorID,
		CredentialValue: session.CredentialValue,
		AcquiredAt:      session.AcquiredAt,
		ExpiresAt:       session.ExpiresAt,
		SourceAddress:   session.SourceAddress,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	})
	if err != nil {
		return
	}

	key := sessionKey(session.OperatorID, session.SourceAddress)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.Set(ctx, idKey(session.ID), key, ttl)
	pipe.SAdd(ctx, operatorKey(session.OperatorID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to cache session", zap.String("operator_id", session.OperatorID), zap.Error(err))
	}
}

func (s cachedSession) session() *domain.CredentialSession {
	return &domain.CredentialSession{
		ID:              s.ID,
		OperatorID:      s.OperatorID,
		CredentialValue: s.CredentialValue,
		AcquiredAt:      s.AcquiredAt,
		ExpiresAt:       s.ExpiresAt,
		SourceAddress:   s.SourceAddress,
		IsActive:        true,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
