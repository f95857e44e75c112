package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts one hit. It returns {allowed, count, ttl_ms}.
// A denied hit does not extend the window.
var fixedWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= limit then
	local ttl = redis.call("PTTL", KEYS[1])
	if ttl < 0 then
		redis.call("PEXPIRE", KEYS[1], window)
		ttl = window
	end
	return {0, count, ttl}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], window)
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], window)
	ttl = window
end
return {1, count, ttl}
`)

// RedisStore keeps counters as expiring Redis keys. Expiry is handled by
// Redis, so there is nothing to sweep.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store using client
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit"}
}

func (s *RedisStore) key(scope Scope, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, identifier)
}

func (s *RedisStore) Hit(ctx context.Context, scope Scope, identifier string, rule Rule, now time.Time) (Decision, error) {
	values, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.key(scope, identifier)},
		rule.Limit, rule.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("redis rate limit script returned %d values", len(values))
	}

	allowed, count, ttl := values[0] == 1, int(values[1]), time.Duration(values[2])*time.Millisecond
	decision := Decision{Allowed: allowed, ResetAt: now.Add(ttl)}
	if allowed {
		decision.Remaining = rule.Limit - count
	}
	return decision, nil
}
