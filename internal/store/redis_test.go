package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimitd/internal/models"
)

// Redis tests need a live server; point RATELIMITD_TEST_REDIS_ADDR at one
// (for example localhost:6379) to enable them.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("RATELIMITD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RATELIMITD_TEST_REDIS_ADDR not set")
	}
	cfg := models.RedisConfig{
		Addr:      addr,
		KeyPrefix: fmt.Sprintf("ratelimitd:test:%s:", uuid.NewString()),
	}
	s, err := NewRedisStore(cfg, 3)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStoreTokenBucket(t *testing.T) {
	s := newTestRedisStore(t)
	policy := testPolicy(models.AlgorithmTokenBucket, 5, time.Second)
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, allowed, err := s.Apply(context.Background(), "user:42", policy, now, 1)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	state, allowed, err := s.Apply(context.Background(), "user:42", policy, now, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.InDelta(t, 0.0, state.Tokens, 1e-6)
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	s := newTestRedisStore(t)
	policy := testPolicy(models.AlgorithmSlidingWindow, 10, time.Minute)
	now := time.Now()

	for i := 0; i < 10; i++ {
		_, allowed, err := s.Apply(context.Background(), "user:7", policy, now, 1)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	state, allowed, err := s.Apply(context.Background(), "user:7", policy, now, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(10), state.CurrentCount)
}

func TestRedisStoreConcurrentAdmitsExactlyLimit(t *testing.T) {
	s := newTestRedisStore(t)
	policy := testPolicy(models.AlgorithmTokenBucket, 50, time.Minute)
	now := time.Now()

	const callers = 200
	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, allowed, err := s.Apply(context.Background(), "shared", policy, now, 1)
			if assert.NoError(t, err) && allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestRedisStoreUnreachableIsUnavailable(t *testing.T) {
	cfg := models.RedisConfig{Addr: "127.0.0.1:1"}
	_, err := NewRedisStore(cfg, 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}
