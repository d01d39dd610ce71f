//go:build integration
// +build integration

package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockerExclusive(t *testing.T) {
	client := redisClient(t)
	locker := NewRedisLocker(client, 5*time.Second)
	id := uuid.New()

	unlock, err := locker.Lock(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, id)
	assert.ErrorIs(t, err, ErrSessionBusy)

	unlock()
	again, err := locker.Lock(context.Background(), id)
	require.NoError(t, err)
	again()
}

func TestRedisLockerExpires(t *testing.T) {
	client := redisClient(t)
	locker := NewRedisLocker(client, 200*time.Millisecond)
	id := uuid.New()

	_, err := locker.Lock(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock, err := locker.Lock(ctx, id)
	require.NoError(t, err, "an abandoned lock expires")
	unlock()
}
