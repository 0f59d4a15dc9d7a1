// README: Fixed-window request limiter backed by a Redis counter; fails open when Redis is unreachable.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/observability"
)

// incrScript bumps the window counter, starting the expiry on first hit,
// and returns the count and the remaining window in milliseconds.
var incrScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	log    logrus.FieldLogger
}

// NewLimiter allows limit requests per key per window. limit <= 0 disables limiting.
func NewLimiter(rdb redis.Scripter, limit int, window time.Duration, log logrus.FieldLogger) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, log: log}
}

func counterKey(key string) string {
	return "ratelimit:" + key
}

func (l *Limiter) Allow(ctx context.Context, key string) Result {
	if l == nil || l.limit <= 0 || l.rdb == nil {
		return Result{Allowed: true}
	}
	vals, err := incrScript.Run(ctx, l.rdb, []string{counterKey(key)}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		l.log.WithError(err).WithField("key", key).Warn("rate limit check failed, allowing request")
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}
	count := int(vals[0])
	res := Result{Allowed: count <= l.limit, Limit: l.limit, Remaining: l.limit - count}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(vals[1]) * time.Millisecond
		observability.RateLimited.Inc()
	}
	return res
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	c, ok := l.rdb.(redis.Cmdable)
	if !ok {
		return nil
	}
	return c.Del(ctx, counterKey(key)).Err()
}
