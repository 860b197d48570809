/**
 * @description
 * Distributed velocity counter backed by Redis. A single Lua script makes the
 * increment-and-expire atomic, so counts stay correct across service replicas.
 * When Redis is absent the guard falls back to counting from the database.
 */

package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var velocityScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// VelocityCounter counts events per subject inside a rolling window.
type VelocityCounter interface {
	Increment(ctx context.Context, scope, subject string, window time.Duration) (int, error)
}

// RedisVelocityCounter implements VelocityCounter on Redis.
type RedisVelocityCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisVelocityCounter creates a counter with the given key prefix.
func NewRedisVelocityCounter(client redis.UniversalClient, prefix string) *RedisVelocityCounter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "afripatron:fraud"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisVelocityCounter{client: client, prefix: trimmedPrefix}
}

// Increment bumps the counter for (scope, subject) and returns the count seen
// inside the current window.
func (r *RedisVelocityCounter) Increment(ctx context.Context, scope, subject string, window time.Duration) (int, error) {
	if r == nil || r.client == nil || window <= 0 {
		return 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := velocityScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, fmt.Errorf("unexpected redis counter response shape: %T", rawResult)
	}

	count, ok := values[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected redis counter count type: %T", values[0])
	}

	return int(count), nil
}
