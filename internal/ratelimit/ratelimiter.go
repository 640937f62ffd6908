// Package ratelimit counts requests per quota over fixed minute, hour and
// day windows backed by Redis. All windows are checked and incremented in a
// single Lua script, so a rejected request consumes no budget in any window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"auditgate/internal/utils"
)

// Limits holds the per-window request caps for a quota. Zero means the
// window is unlimited.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Unlimited reports whether no window carries a cap.
func (l Limits) Unlimited() bool {
	return l.PerMinute <= 0 && l.PerHour <= 0 && l.PerDay <= 0
}

// Decision is the outcome of a rate check.
type Decision struct {
	Allowed bool
	// Window names the first window that tripped ("minute", "hour",
	// "day"); empty when allowed.
	Window string
	// RetryAfter is how long until the tripped window resets.
	RetryAfter time.Duration
}

// Limiter decides whether a request may proceed under a quota's limits.
type Limiter interface {
	Allow(ctx context.Context, quotaID uuid.UUID, limits Limits) (Decision, error)
	Reset(ctx context.Context, quotaID uuid.UUID) error
}

// checkScript checks every capped window first and only then increments all
// of them, so counters never advance on a rejected request. KEYS are the
// window counters; ARGV pairs each key with its cap and TTL seconds.
// Returns {1} when allowed, {0, index} with the 1-based tripped key otherwise.
var checkScript = redis.NewScript(`
for i = 1, #KEYS do
	local cap = tonumber(ARGV[2*i-1])
	if cap > 0 then
		local current = tonumber(redis.call('GET', KEYS[i]) or '0')
		if current >= cap then
			return {0, i}
		end
	end
end
for i = 1, #KEYS do
	local count = redis.call('INCR', KEYS[i])
	if count == 1 then
		redis.call('EXPIRE', KEYS[i], tonumber(ARGV[2*i]))
	end
end
return {1}
`)

type window struct {
	name string
	size time.Duration
}

var windows = []window{
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

// RedisRateLimiter implements Limiter on fixed windows aligned to the clock.
type RedisRateLimiter struct {
	client *redis.Client
	logger *utils.Logger
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		logger: utils.NewLogger("ratelimit"),
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, quotaID uuid.UUID, limits Limits) (Decision, error) {
	if limits.Unlimited() {
		return Decision{Allowed: true}, nil
	}

	now := time.Now()
	caps := []int{limits.PerMinute, limits.PerHour, limits.PerDay}

	keys := make([]string, len(windows))
	argv := make([]interface{}, 0, 2*len(windows))
	for i, w := range windows {
		start := now.Truncate(w.size)
		keys[i] = fmt.Sprintf("rl:%s:%s:%d", quotaID, w.name, start.Unix())
		// Expire a window past its end so slow clocks do not drop live
		// counters.
		ttl := int(start.Add(w.size).Sub(now).Seconds()) + 1
		argv = append(argv, caps[i], ttl)
	}

	result, err := checkScript.Run(ctx, r.client, keys, argv...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to run rate limit check: %w", err)
	}

	if len(result) >= 1 && result[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	if len(result) < 2 || result[1] < 1 || int(result[1]) > len(windows) {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	tripped := windows[result[1]-1]
	reset := now.Truncate(tripped.size).Add(tripped.size)
	return Decision{
		Allowed:    false,
		Window:     tripped.name,
		RetryAfter: reset.Sub(now),
	}, nil
}

// Reset clears all window counters for a quota. Used by tests and by admin
// key resets.
func (r *RedisRateLimiter) Reset(ctx context.Context, quotaID uuid.UUID) error {
	var cursor uint64
	pattern := fmt.Sprintf("rl:%s:*", quotaID)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan rate limit keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete rate limit keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// NoopLimiter allows everything. Used when no Redis is configured.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never rejects.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (n *NoopLimiter) Allow(ctx context.Context, quotaID uuid.UUID, limits Limits) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (n *NoopLimiter) Reset(ctx context.Context, quotaID uuid.UUID) error {
	return nil
}
