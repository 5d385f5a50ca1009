package admission

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the per-key counter and pins the window
// TTL on first touch, so count and expiry never drift apart.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

// RedisStore shares one window counter across server instances. Same
// contract as LocalStore; key expiry takes the place of the sweeper.
type RedisStore struct {
	client redis.Scripter
	script *redis.Script
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (s *RedisStore) CheckAndConsume(ctx context.Context, identifier string, maxRequests int, window time.Duration) (Decision, error) {
	if s == nil || s.client == nil {
		return Decision{}, errors.New("admission store not configured")
	}
	if identifier == "" {
		return Decision{}, errors.New("admission identifier is empty")
	}

	res, err := s.script.Run(
		ctx,
		s.client,
		[]string{"admission:" + identifier},
		int64(window / time.Millisecond),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 2 {
		return Decision{}, errors.New("invalid admission script response")
	}

	count, _ := res[0].(int64)
	ttlMillis, _ := res[1].(int64)

	resetAt := time.Now().Add(time.Duration(ttlMillis) * time.Millisecond)
	if count > int64(maxRequests) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}
