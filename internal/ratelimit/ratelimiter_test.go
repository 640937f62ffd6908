package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows exactly the per-minute cap", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()
		quotaID := uuid.New()
		limits := Limits{PerMinute: 5}

		for i := 0; i < 5; i++ {
			decision, err := limiter.Allow(ctx, quotaID, limits)
			require.NoError(t, err)
			assert.True(t, decision.Allowed, "request %d should pass", i+1)
		}

		decision, err := limiter.Allow(ctx, quotaID, limits)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "minute", decision.Window)
		assert.Greater(t, decision.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
	})

	t.Run("hourly cap trips independently", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()
		quotaID := uuid.New()
		limits := Limits{PerHour: 3}

		for i := 0; i < 3; i++ {
			decision, err := limiter.Allow(ctx, quotaID, limits)
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}

		decision, err := limiter.Allow(ctx, quotaID, limits)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "hour", decision.Window)
	})

	t.Run("rejection consumes no window budget", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()
		quotaID := uuid.New()
		limits := Limits{PerMinute: 5, PerHour: 2}

		for i := 0; i < 2; i++ {
			decision, err := limiter.Allow(ctx, quotaID, limits)
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}

		// The hour cap rejects this one; the minute counter must not move.
		decision, err := limiter.Allow(ctx, quotaID, limits)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "hour", decision.Window)

		minuteStart := time.Now().Truncate(time.Minute)
		minuteKey := fmt.Sprintf("rl:%s:minute:%d", quotaID, minuteStart.Unix())
		count, err := client.Get(ctx, minuteKey).Int()
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("unlimited when no caps are set", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()
		quotaID := uuid.New()

		for i := 0; i < 100; i++ {
			decision, err := limiter.Allow(ctx, quotaID, Limits{})
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}
	})

	t.Run("different quotas do not share windows", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		limiter := NewRateLimiter(client)
		ctx := context.Background()
		limits := Limits{PerMinute: 1}

		first := uuid.New()
		second := uuid.New()

		decision, err := limiter.Allow(ctx, first, limits)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		decision, err = limiter.Allow(ctx, first, limits)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		decision, err = limiter.Allow(ctx, second, limits)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})
}

func TestRateLimiter_Reset(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	limiter := NewRateLimiter(client)
	ctx := context.Background()
	quotaID := uuid.New()
	limits := Limits{PerMinute: 2}

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, quotaID, limits)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(ctx, quotaID, limits)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	require.NoError(t, limiter.Reset(ctx, quotaID))

	decision, err = limiter.Allow(ctx, quotaID, limits)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestNoopLimiter(t *testing.T) {
	limiter := NewNoopLimiter()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		decision, err := limiter.Allow(ctx, uuid.New(), Limits{PerMinute: 1})
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
	assert.NoError(t, limiter.Reset(ctx, uuid.New()))
}
