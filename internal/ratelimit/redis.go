package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the key's counter, starting its expiry on the
// first hit, and returns {count, remaining ttl ms}. Expiry reclaims idle keys.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// DefaultKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultKeyPrefix = "nexid:rl:"

// RedisLimiter shares windows across service replicas through Redis.
type RedisLimiter struct {
	cfg    Config
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		cfg:    cfg.normalized(),
		client: client,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
}

// Admit counts one request for key atomically on the Redis server.
func (l *RedisLimiter) Admit(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		l.cfg.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: redis: unexpected reply %v", res)
	}

	count := int(res[0])
	return Decision{
		Allowed: count <= l.cfg.Max,
		Count:   count,
		Limit:   l.cfg.Max,
		ResetAt: l.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}
