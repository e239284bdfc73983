package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rubickcz/smsgate/internal/ratelimit"
)

const (
	defaultLimitPerSec int64 = 30
	windowSeconds            = 1
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
)

// countScript increments the current window counter and arms its expiry
// on first use. It returns the count after the increment; the limit
// comparison happens on the Go side.
var countScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter enforces a per-second send cap shared by every process
// that dispatches through the same provider. Counters are keyed per
// backend so a throttled provider cannot starve the others.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	script      *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
		script:      countScript,
	}, nil
}

// Allow reports whether one more send fits into the current one-second
// window for the given backend.
func (r *RedisRateLimiter) Allow(ctx context.Context, backend string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		return false, fmt.Errorf("backend is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := limiterKey(name, r.now().UTC().Unix())
	count, err := r.script.Run(ctx, r.client, []string{key}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to count window %q: %w", key, err)
	}

	return count <= r.limitPerSec, nil
}

// Wait blocks until the backend has capacity or ctx ends. The backoff
// grows in small steps; windows are one second, so long sleeps only
// waste capacity.
func (r *RedisRateLimiter) Wait(ctx context.Context, backend string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	wait := backoffStep
	for {
		allowed, err := r.Allow(ctx, backend)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}

		if wait += backoffStep; wait > backoffMax {
			wait = backoffMax
		}
	}
}

func limiterKey(backend string, unixSec int64) string {
	return fmt.Sprintf("smsgate:ratelimit:%s:%d", backend, unixSec)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
