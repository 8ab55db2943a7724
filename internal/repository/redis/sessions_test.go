package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/repository/memory"
)

// unreachableClient points at a closed port so every cache call fails fast
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestSessionKeys(t *testing.T) {
	id := uuid.MustParse("7b1c2f4e-0000-4000-8000-000000000001")

	assert.Equal(t, "labconnect:session:op-1:10.0.0.7", sessionKey("op-1", "10.0.0.7"))
	assert.Equal(t, "labconnect:session:id:7b1c2f4e-0000-4000-8000-000000000001", idKey(id))
	assert.Equal(t, "labconnect:session:operator:op-1", operatorKey("op-1"))
}

func TestSessionCache_FallsBackWhenRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	client := unreachableClient()
	defer client.Close()

	durable := memory.NewSessionRepository()
	cache := NewSessionCache(client, durable, nil)

	session := &domain.CredentialSession{
		OperatorID:      "op-1",
		SourceAddress:   "10.0.0.7",
		CredentialValue: "key-1",
		AcquiredAt:      time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}
	require.NoError(t, cache.Create(ctx, session))

	got, err := cache.GetActive(ctx, "op-1", "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.CredentialValue)

	require.NoError(t, cache.Deactivate(ctx, session.ID))
	_, err = cache.GetActive(ctx, "op-1", "10.0.0.7")
	assert.Error(t, err)
}

func TestSessionCache_DeactivateOperatorCountsDurableRows(t *testing.T) {
	ctx := context.Background()
	client := unreachableClient()
	defer client.Close()

	durable := memory.NewSessionRepository()
	cache := NewSessionCache(client, durable, nil)

	for _, addr := range []string{"a", "b"} {
		require.NoError(t, cache.Create(ctx, &domain.CredentialSession{
			OperatorID:    "op-1",
			SourceAddress: addr,
			ExpiresAt:     time.Now().Add(time.Hour),
		}))
	}

	n, err := cache.DeactivateOperator(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCachedSessionRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	cached := cachedSession{
		ID:              uuid.New(),
		OperatorID:      "op-1",
		CredentialValue: "key",
		AcquiredAt:      now,
		ExpiresAt:       now.Add(time.Hour),
		SourceAddress:   "10.0.0.7",
	}

	s := cached.session()
	assert.True(t, s.IsActive)
	assert.Equal(t, cached.ID, s.ID)
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(time.Hour)))
}
